package bundler

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func mustResolve(t *testing.T, custom map[string]interface{}) *Options {
	t.Helper()
	opts, err := ResolveOptions(custom)
	require.NoError(t, err)
	return opts
}

func TestResolveOptions_Defaults(t *testing.T) {
	opts := mustResolve(t, nil)

	assert.Equal(t, "js", opts.HandlerExt)
	assert.Equal(t, DefaultStandalone, opts.Standalone)
	assert.True(t, opts.MinifyEnabled())
	assert.Equal(t, DefaultTarget, opts.Babel.Target)
	assert.Equal(t, []string{"es2015"}, opts.Babel.Presets)
	require.Len(t, opts.Transforms, 1)
	assert.Equal(t, TransformTranspile, opts.Transforms[0].Name)
	assert.Equal(t, []Item{{Name: PluginMinify, Opts: map[string]interface{}{"map": false}}}, opts.Plugins)
	assert.Empty(t, opts.IncludePaths)
}

func TestResolveOptions_Custom(t *testing.T) {
	opts := mustResolve(t, map[string]interface{}{
		"handlerExt":   ".ts",
		"minify":       false,
		"includePaths": []interface{}{"templates"},
		"requires":     []interface{}{"./setup", map[string]interface{}{"name": "source-map-support/register"}},
		"transforms":   []interface{}{"babelify", map[string]interface{}{"name": "envify", "opts": map[string]interface{}{"STAGE": "dev"}}},
		"exclude":      "aws-sdk",
		"babel":        map[string]interface{}{"presets": []interface{}{"es2015", "es2017", "react"}},
	})

	assert.Equal(t, "ts", opts.HandlerExt)
	assert.False(t, opts.MinifyEnabled())
	assert.Empty(t, opts.Plugins)
	assert.Equal(t, []string{"templates"}, opts.IncludePaths)
	assert.Equal(t, []string{"aws-sdk"}, opts.Exclude)
	assert.Equal(t, "es2017", opts.Babel.Target, "the newest esYYYY preset selects the target")
	require.Len(t, opts.Requires, 2)
	assert.Equal(t, "source-map-support/register", opts.Requires[1].Name)
	require.Len(t, opts.Transforms, 2)
	assert.Equal(t, "babelify", opts.Transforms[0].Name)
	assert.Equal(t, "dev", opts.Transforms[1].Opts["STAGE"])
}

func TestResolveOptions_NamelessItem(t *testing.T) {
	_, err := ResolveOptions(map[string]interface{}{
		"plugins": []interface{}{map[string]interface{}{"opts": map[string]interface{}{}}},
	})
	assert.Error(t, err)
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		target      string
		wantTarget  api.Target
		wantEngines int
		wantErr     bool
	}{
		{target: "", wantTarget: api.ES2015},
		{target: "ES2020", wantTarget: api.ES2020},
		{target: "esnext", wantTarget: api.ESNext},
		{target: "node18", wantTarget: api.DefaultTarget, wantEngines: 1},
		{target: "node", wantErr: true},
		{target: "chrome100", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			target, engines, err := parseTarget(tt.target)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTarget, target)
			assert.Len(t, engines, tt.wantEngines)
		})
	}
}

func TestLoaderHandler(t *testing.T) {
	tests := []struct {
		handler string
		want    string
	}{
		{"handler.default", "_serverless_handler.handler"},
		{"lib/handler.default", "lib/_serverless_handler.handler"},
		{"src/api/users.list", "src/api/_serverless_handler.handler"},
		{"lib\\handler.main", "lib/_serverless_handler.handler"},
	}

	for _, tt := range tests {
		t.Run(tt.handler, func(t *testing.T) {
			assert.Equal(t, tt.want, LoaderHandler(tt.handler))
		})
	}
}

func TestGenerateLoader(t *testing.T) {
	content, err := GenerateLoader(map[string]string{
		"SERVERLESS_STAGE": "dev",
		"GREETING":         "<hello & welcome>",
	}, "handler", "default")
	require.NoError(t, err)

	want := `var envVars = {
  "GREETING": "<hello & welcome>",
  "SERVERLESS_STAGE": "dev"
};
for (var key in envVars) {
  process.env[key] = envVars[key];
}
exports.handler = require("./handler")["default"];
`
	assert.Equal(t, want, string(content))
}

func TestGenerateLoader_NoVariables(t *testing.T) {
	content, err := GenerateLoader(nil, "index", "main")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(content), "var envVars = {};\n"))
}

func TestCreateDistDir(t *testing.T) {
	root := t.TempDir()

	dir, err := CreateDistDir(root, "orders")
	require.NoError(t, err)

	assert.Equal(t, root, filepath.Dir(dir))
	assert.Regexp(t, `^orders@\d+$`, filepath.Base(dir))
	assert.DirExists(t, dir)
}

func TestCopyFunction(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "handler.js", "exports.default = 1;")
	writeFile(t, src, "lib/util.js", "module.exports = {};")
	writeFile(t, src, "lib/util.test.js", "test")
	writeFile(t, src, "node_modules/left-pad/index.js", "module.exports = 1;")
	writeFile(t, src, "fixtures/big.json", "{}")

	dst := t.TempDir()
	require.NoError(t, CopyFunction(src, dst, []string{`\.test\.js$`, `^fixtures`}))

	assert.FileExists(t, filepath.Join(dst, "handler.js"))
	assert.FileExists(t, filepath.Join(dst, "lib", "util.js"))
	assert.NoFileExists(t, filepath.Join(dst, "lib", "util.test.js"))
	assert.NoDirExists(t, filepath.Join(dst, "node_modules"))
	assert.NoDirExists(t, filepath.Join(dst, "fixtures"))
}

func TestCopyFunction_InvalidPattern(t *testing.T) {
	err := CopyFunction(t.TempDir(), t.TempDir(), []string{"("})
	assert.Error(t, err)
}

func newJob(t *testing.T, root string, custom map[string]interface{}) *Job {
	t.Helper()
	return &Job{
		Name:          "orders",
		Root:          root,
		ProjectRoot:   filepath.Dir(root),
		HandlerDir:    ".",
		HandlerFile:   "handler",
		HandlerMethod: "default",
		EnvVars:       map[string]string{"TABLE": "orders"},
		Options:       mustResolve(t, custom),
		DistRoot:      t.TempDir(),
	}
}

func TestBundle_Standalone(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "handler.js", `
const { format } = require("./lib/format");
exports.default = (event, context, cb) => cb(null, format(process.env.TABLE));
`)
	writeFile(t, root, "lib/format.js", `exports.format = (s) => "table:" + s;`)
	writeFile(t, root, "templates/email.html", "<p>hi</p>")

	job := newJob(t, root, map[string]interface{}{"includePaths": []interface{}{"templates"}})
	out, err := Bundle(context.Background(), job)
	require.NoError(t, err)

	bundle, err := os.ReadFile(filepath.Join(out.DistDir, BundleFile))
	require.NoError(t, err)
	assert.Contains(t, string(bundle), "var lambda")
	assert.Contains(t, string(bundle), "module.exports = lambda")

	loader, err := os.ReadFile(filepath.Join(out.DistDir, "_serverless_handler.js"))
	require.NoError(t, err)
	assert.Contains(t, string(loader), `"TABLE": "orders"`)

	assert.Equal(t, []PackagedPath{
		{Name: "_serverless_handler.js", Path: filepath.Join(out.DistDir, BundleFile)},
		{Name: "templates", Path: filepath.Join(out.DistDir, "templates")},
	}, out.Paths)

	require.NotNil(t, out.Analysis)
	assert.Greater(t, out.Analysis.TotalBytes, 0)
	var inputs []string
	for _, in := range out.Analysis.Inputs {
		inputs = append(inputs, in.Path)
	}
	assert.Contains(t, inputs, "lib/format.js")
}

func TestBundle_NestedHandler(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "lib/handler.js", `exports.main = () => Promise.resolve("ok");`)

	job := newJob(t, root, nil)
	job.HandlerDir = "lib"
	job.HandlerMethod = "main"

	out, err := Bundle(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, "lib/_serverless_handler.js", out.Paths[0].Name)
	assert.FileExists(t, filepath.Join(out.DistDir, "lib", "_serverless_handler.js"))
}

func TestBundle_ExcludeIgnoreRequires(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "handler.js", `
const AWS = require("aws-sdk");
const heavy = require("heavy-module");
exports.default = (event, context, cb) => cb(null, { aws: typeof AWS, heavy: heavy, table: process.env.TABLE });
`)
	writeFile(t, root, "setup.js", `global.setupMarker = "setup-ran";`)

	job := newJob(t, root, map[string]interface{}{
		"minify":     false,
		"exclude":    []interface{}{"aws-sdk"},
		"ignore":     []interface{}{"heavy-module"},
		"requires":   []interface{}{"./setup"},
		"transforms": []interface{}{"transpile", "envify"},
	})
	out, err := Bundle(context.Background(), job)
	require.NoError(t, err)

	bundle, err := os.ReadFile(filepath.Join(out.DistDir, BundleFile))
	require.NoError(t, err)
	assert.Contains(t, string(bundle), `require("aws-sdk")`)
	assert.Contains(t, string(bundle), "setup-ran")
	assert.Contains(t, string(bundle), `"orders"`)
	assert.NotContains(t, string(bundle), "process.env.TABLE")
	assert.Contains(t, out.Analysis.ExternalImports, "aws-sdk")
}

func TestBundle_UnknownPlugin(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "handler.js", `exports.default = () => 1;`)

	job := newJob(t, root, map[string]interface{}{"plugins": []interface{}{"uglify"}})
	_, err := Bundle(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown bundler plugin "uglify"`)
}

func TestBundle_SyntaxError(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "handler.js", "exports.default = (;\n")

	job := newJob(t, root, nil)
	_, err := Bundle(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to bundle orders")
	assert.Contains(t, err.Error(), "handler.js:1:")
}

func TestBundle_RegisteredExtension(t *testing.T) {
	RegisterExtension("test-define", func(b *Build, opts map[string]interface{}) error {
		b.Options.Define = map[string]string{"BUILD_ID": `"build-42"`}
		return nil
	})
	t.Cleanup(func() { unregisterExtension("test-define") })

	root := t.TempDir()
	writeFile(t, root, "handler.js", `exports.default = (e, c, cb) => cb(null, BUILD_ID);`)

	job := newJob(t, root, map[string]interface{}{"minify": false, "plugins": []interface{}{"test-define"}})
	out, err := Bundle(context.Background(), job)
	require.NoError(t, err)

	bundle, err := os.ReadFile(filepath.Join(out.DistDir, BundleFile))
	require.NoError(t, err)
	assert.Contains(t, string(bundle), "build-42")
	assert.Contains(t, Extensions(), "test-define")
}

func TestUnregisterExtension(t *testing.T) {
	RegisterExtension("test-noop", func(b *Build, opts map[string]interface{}) error { return nil })
	require.Contains(t, Extensions(), "test-noop")

	unregisterExtension("test-noop")
	assert.NotContains(t, Extensions(), "test-noop")
}

func TestBundle_RunsUnderNode(t *testing.T) {
	if _, err := exec.LookPath("node"); err != nil {
		t.Skip("node is not installed")
	}

	root := t.TempDir()
	writeFile(t, root, "handler.js", `exports.default = (event, context, cb) => cb(null, process.env.TABLE + ":" + event.id);`)

	out, err := Bundle(context.Background(), newJob(t, root, nil))
	require.NoError(t, err)

	script := `require(process.argv[1]).handler({id: 7}, {}, (err, res) => console.log(JSON.stringify(res)));`
	cmd := exec.Command("node", "-e", script, filepath.Join(out.DistDir, BundleFile))
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	require.NoError(t, cmd.Run())

	var got string
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &got))
	assert.Equal(t, "orders:7", got)
}

func TestTranspile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "lib/handler.js", `
import { greet } from "./greet";
export const main = async (event) => greet(event.name);
`)
	writeFile(t, root, "lib/greet.js", "export const greet = (name) => `hello ${name}`;")

	outDir := t.TempDir()
	outfile, err := Transpile(context.Background(), &TranspileJob{
		Root:    root,
		Source:  "lib/handler.js",
		OutDir:  outDir,
		Options: mustResolve(t, nil),
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(outDir, "lib", "handler.js"), outfile)
	content, err := os.ReadFile(outfile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "module.exports")
	assert.Contains(t, string(content), "sourceMappingURL=data:")
	assert.Contains(t, string(content), "hello")
}

func TestTranspile_MissingSource(t *testing.T) {
	_, err := Transpile(context.Background(), &TranspileJob{
		Root:   t.TempDir(),
		Source: "handler.js",
		OutDir: t.TempDir(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler source not found")
}

func TestDisplayAnalysis(t *testing.T) {
	var buf bytes.Buffer
	DisplayAnalysis(&buf, &Analysis{
		Function:        "orders",
		TotalBytes:      2048,
		Inputs:          []InputAnalysis{{Path: "handler.js", BytesInOutput: 1024, Percentage: 50}},
		ExternalImports: []string{"aws-sdk"},
	}, false)

	out := buf.String()
	assert.Contains(t, out, "Bundle Analysis: orders")
	assert.Contains(t, out, "2.0 KB")
	assert.Contains(t, out, "- aws-sdk")
	assert.Contains(t, out, "handler.js")
	assert.Contains(t, out, "50.0%")
}
