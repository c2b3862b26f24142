package bundler

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Item is a named plugin, transform or require entry.
// In a descriptor it is either a bare name or {"name": ..., "opts": {...}}.
type Item struct {
	Name string                 `mapstructure:"name" json:"name"`
	Opts map[string]interface{} `mapstructure:"opts" json:"opts,omitempty"`
}

// TranspileOptions control how handler sources are transpiled
type TranspileOptions struct {
	// Target is an esbuild target such as "es2015", "es2020", "esnext" or "node18"
	Target string `mapstructure:"target" json:"target,omitempty"`
	// Presets are accepted for older descriptors; an "esYYYY" preset selects the target
	Presets     []string          `mapstructure:"presets" json:"presets,omitempty"`
	JSX         string            `mapstructure:"jsx" json:"jsx,omitempty"`
	JSXFactory  string            `mapstructure:"jsxFactory" json:"jsxFactory,omitempty"`
	JSXFragment string            `mapstructure:"jsxFragment" json:"jsxFragment,omitempty"`
	Define      map[string]string `mapstructure:"define" json:"define,omitempty"`
	Sourcemap   bool              `mapstructure:"sourcemap" json:"sourcemap,omitempty"`
}

// Options are the bundler settings read from custom.runtime
type Options struct {
	Babel        TranspileOptions `mapstructure:"babel" json:"babel"`
	HandlerExt   string           `mapstructure:"handlerExt" json:"handlerExt"`
	IncludePaths []string         `mapstructure:"includePaths" json:"includePaths"`
	Requires     []Item           `mapstructure:"requires" json:"requires"`
	Plugins      []Item           `mapstructure:"plugins" json:"plugins"`
	Transforms   []Item           `mapstructure:"transforms" json:"transforms"`
	Exclude      []string         `mapstructure:"exclude" json:"exclude"`
	Ignore       []string         `mapstructure:"ignore" json:"ignore"`
	Extensions   []string         `mapstructure:"extensions" json:"extensions"`
	Minify       *bool            `mapstructure:"minify" json:"minify"`
	Standalone   string           `mapstructure:"standalone" json:"standalone"`
	Sourcemap    bool             `mapstructure:"sourcemap" json:"sourcemap"`
}

const (
	// DefaultTarget matches the es2015 preset used when no babel options are given
	DefaultTarget = "es2015"

	// DefaultStandalone is the global name the bundle exports its entry under
	DefaultStandalone = "lambda"

	defaultHandlerExt = "js"
)

var presetTargetPattern = regexp.MustCompile(`^es20\d\d$`)

// ResolveTranspileOptions applies the defaults to the custom.runtime.babel section
func ResolveTranspileOptions(custom map[string]interface{}) (TranspileOptions, error) {
	var opts TranspileOptions
	if raw, ok := custom["babel"]; ok && raw != nil {
		if err := decode(raw, &opts); err != nil {
			return opts, fmt.Errorf("invalid custom.runtime.babel: %w", err)
		}
	}
	opts.applyDefaults()
	return opts, nil
}

func (t *TranspileOptions) applyDefaults() {
	if t.Target != "" {
		return
	}
	if len(t.Presets) == 0 {
		t.Presets = []string{DefaultTarget}
	}
	// The newest esYYYY preset wins
	for _, preset := range t.Presets {
		preset = strings.ToLower(preset)
		if presetTargetPattern.MatchString(preset) && preset > t.Target {
			t.Target = preset
		}
	}
	if t.Target == "" {
		t.Target = DefaultTarget
	}
}

// ToMap renders the options the way they are passed to the local runner
func (t TranspileOptions) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"target":    t.Target,
		"sourcemap": t.Sourcemap,
	}
	if len(t.Presets) > 0 {
		m["presets"] = t.Presets
	}
	if t.JSX != "" {
		m["jsx"] = t.JSX
	}
	return m
}

// ResolveOptions decodes custom.runtime and fills in the defaults.
// When minify is on, the minify plugin is appended with source maps disabled.
func ResolveOptions(custom map[string]interface{}) (*Options, error) {
	babel, err := ResolveTranspileOptions(custom)
	if err != nil {
		return nil, err
	}

	opts := &Options{}
	if custom != nil {
		if err := decode(custom, opts); err != nil {
			return nil, fmt.Errorf("invalid custom.runtime: %w", err)
		}
	}
	opts.Babel = babel

	if opts.HandlerExt == "" {
		opts.HandlerExt = defaultHandlerExt
	}
	opts.HandlerExt = strings.TrimPrefix(opts.HandlerExt, ".")
	if opts.Standalone == "" {
		opts.Standalone = DefaultStandalone
	}
	if opts.Minify == nil {
		minify := true
		opts.Minify = &minify
	}
	if opts.Transforms == nil {
		opts.Transforms = []Item{{Name: TransformTranspile, Opts: babelOpts(custom)}}
	}
	if *opts.Minify {
		opts.Plugins = append(opts.Plugins, Item{Name: PluginMinify, Opts: map[string]interface{}{"map": false}})
	}

	for _, item := range append(append([]Item{}, opts.Transforms...), opts.Plugins...) {
		if item.Name == "" {
			return nil, fmt.Errorf("invalid custom.runtime: plugin or transform without a name")
		}
	}
	for _, item := range opts.Requires {
		if item.Name == "" {
			return nil, fmt.Errorf("invalid custom.runtime: require without a name")
		}
	}

	return opts, nil
}

// MinifyEnabled reports whether the bundle is minified
func (o *Options) MinifyEnabled() bool {
	return o.Minify != nil && *o.Minify
}

func babelOpts(custom map[string]interface{}) map[string]interface{} {
	if custom == nil {
		return nil
	}
	opts, _ := custom["babel"].(map[string]interface{})
	return opts
}

func decode(input interface{}, result interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       itemFromString,
		WeaklyTypedInput: true,
		Result:           result,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// itemFromString lets descriptors list plugins and requires by bare name
func itemFromString(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to == reflect.TypeOf(Item{}) && from.Kind() == reflect.String {
		return Item{Name: data.(string)}, nil
	}
	return data, nil
}
