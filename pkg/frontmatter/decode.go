package frontmatter

import (
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Decode copies a metadata map into a tagged struct. Weak typing is enabled
// so that a header value such as `order: 3` fills a string field and
// `draft: "true"` fills a bool field.
func Decode(metadata map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "meta",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create metadata decoder")
	}
	if err := decoder.Decode(metadata); err != nil {
		return errors.Wrap(err, "failed to decode metadata")
	}
	return nil
}

// Merge returns a new map holding base overlaid with overrides.
func Merge(base, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
