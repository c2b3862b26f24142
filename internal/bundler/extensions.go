package bundler

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"
)

// Names of the built-in transforms and plugins
const (
	TransformTranspile = "transpile"
	TransformEnvify    = "envify"
	TransformLoader    = "loader"
	PluginMinify       = "minify"
	PluginBanner       = "banner"
	PluginExternals    = "externals"
)

// Extension applies one named transform or plugin entry to a bundling run
type Extension func(b *Build, opts map[string]interface{}) error

// Build is the esbuild configuration an Extension may change
type Build struct {
	Options *api.BuildOptions
	EnvVars map[string]string

	// DefaultTarget is used by transpile when its options set no target or presets
	DefaultTarget string
}

var (
	extensionsMu sync.RWMutex
	extensions   = map[string]Extension{
		TransformTranspile: transpileExtension,
		"babelify":         transpileExtension,
		TransformEnvify:    envifyExtension,
		TransformLoader:    loaderExtension,
		PluginMinify:       minifyExtension,
		"minifyify":        minifyExtension,
		PluginBanner:       bannerExtension,
		PluginExternals:    externalsExtension,
	}
)

// RegisterExtension makes a transform or plugin available by name
func RegisterExtension(name string, ext Extension) {
	extensionsMu.Lock()
	defer extensionsMu.Unlock()
	extensions[name] = ext
}

func unregisterExtension(name string) {
	extensionsMu.Lock()
	defer extensionsMu.Unlock()
	delete(extensions, name)
}

// Extensions returns the registered names, sorted
func Extensions() []string {
	extensionsMu.RLock()
	defer extensionsMu.RUnlock()
	names := make([]string, 0, len(extensions))
	for name := range extensions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// apply runs every item against b, failing on unknown names
func (b *Build) apply(kind string, items []Item) error {
	extensionsMu.RLock()
	defer extensionsMu.RUnlock()

	for _, item := range items {
		ext, ok := extensions[item.Name]
		if !ok {
			return fmt.Errorf("unknown bundler %s %q (available: %s)", kind, item.Name, strings.Join(sortedKeys(extensions), ", "))
		}
		if err := ext(b, item.Opts); err != nil {
			return fmt.Errorf("%s %q: %w", kind, item.Name, err)
		}
	}
	return nil
}

func sortedKeys(m map[string]Extension) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func transpileExtension(b *Build, opts map[string]interface{}) error {
	var t TranspileOptions
	if opts != nil {
		if err := decode(opts, &t); err != nil {
			return err
		}
	}
	if t.Target == "" && len(t.Presets) == 0 {
		t.Target = b.DefaultTarget
	}
	t.applyDefaults()
	return applyTranspile(b.Options, t)
}

// applyTranspile maps transpile options onto esbuild settings
func applyTranspile(options *api.BuildOptions, t TranspileOptions) error {
	target, engines, err := parseTarget(t.Target)
	if err != nil {
		return err
	}
	options.Target = target
	options.Engines = engines

	switch strings.ToLower(t.JSX) {
	case "":
	case "transform":
		options.JSX = api.JSXTransform
	case "preserve":
		options.JSX = api.JSXPreserve
	case "automatic":
		options.JSX = api.JSXAutomatic
	default:
		return fmt.Errorf("invalid jsx mode %q (valid: transform, preserve, automatic)", t.JSX)
	}
	if t.JSXFactory != "" {
		options.JSXFactory = t.JSXFactory
	}
	if t.JSXFragment != "" {
		options.JSXFragment = t.JSXFragment
	}

	if len(t.Define) > 0 {
		if options.Define == nil {
			options.Define = map[string]string{}
		}
		for key, value := range t.Define {
			options.Define[key] = value
		}
	}
	return nil
}

var esTargets = map[string]api.Target{
	"es5":    api.ES5,
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"es2023": api.ES2023,
	"es2024": api.ES2024,
	"esnext": api.ESNext,
}

// parseTarget accepts an ES version or a node engine such as "node18.12"
func parseTarget(target string) (api.Target, []api.Engine, error) {
	target = strings.ToLower(strings.TrimSpace(target))
	if target == "" {
		target = DefaultTarget
	}
	if t, ok := esTargets[target]; ok {
		return t, nil, nil
	}
	if version, ok := strings.CutPrefix(target, "node"); ok && version != "" {
		return api.DefaultTarget, []api.Engine{{Name: api.EngineNode, Version: version}}, nil
	}
	return api.DefaultTarget, nil, fmt.Errorf("unsupported target %q", target)
}

// envifyExtension inlines process.env reads. Without opts it inlines the
// function's environment variables.
func envifyExtension(b *Build, opts map[string]interface{}) error {
	vars := b.EnvVars
	if len(opts) > 0 {
		vars = make(map[string]string, len(opts))
		for key, value := range opts {
			vars[key] = fmt.Sprint(value)
		}
	}

	if b.Options.Define == nil {
		b.Options.Define = map[string]string{}
	}
	for key, value := range vars {
		quoted, err := json.Marshal(value)
		if err != nil {
			return err
		}
		b.Options.Define["process.env."+key] = string(quoted)
	}
	return nil
}

var loaders = map[string]api.Loader{
	"js":      api.LoaderJS,
	"jsx":     api.LoaderJSX,
	"ts":      api.LoaderTS,
	"tsx":     api.LoaderTSX,
	"json":    api.LoaderJSON,
	"text":    api.LoaderText,
	"base64":  api.LoaderBase64,
	"dataurl": api.LoaderDataURL,
	"binary":  api.LoaderBinary,
	"file":    api.LoaderFile,
	"copy":    api.LoaderCopy,
	"empty":   api.LoaderEmpty,
}

// loaderExtension maps file extensions to esbuild loaders, e.g. {".html": "text"}
func loaderExtension(b *Build, opts map[string]interface{}) error {
	if b.Options.Loader == nil {
		b.Options.Loader = map[string]api.Loader{}
	}
	for ext, value := range opts {
		name, _ := value.(string)
		loader, ok := loaders[strings.ToLower(name)]
		if !ok {
			return fmt.Errorf("unknown loader %q for %s", name, ext)
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		b.Options.Loader[ext] = loader
	}
	return nil
}

func minifyExtension(b *Build, opts map[string]interface{}) error {
	b.Options.MinifyWhitespace = true
	b.Options.MinifyIdentifiers = true
	b.Options.MinifySyntax = true

	if withMap, _ := opts["map"].(bool); withMap {
		b.Options.Sourcemap = api.SourceMapInline
	}
	return nil
}

func bannerExtension(b *Build, opts map[string]interface{}) error {
	text, _ := opts["text"].(string)
	if text == "" {
		return fmt.Errorf("banner requires a text option")
	}
	if b.Options.Banner == nil {
		b.Options.Banner = map[string]string{}
	}
	b.Options.Banner["js"] = text
	return nil
}

func externalsExtension(b *Build, opts map[string]interface{}) error {
	var modules []string
	if err := decode(opts["modules"], &modules); err != nil {
		return err
	}
	b.Options.External = append(b.Options.External, modules...)
	return nil
}
