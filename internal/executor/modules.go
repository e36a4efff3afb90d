package executor

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
	"unicode"

	"github.com/stackforge-io/stackforge/internal/ctxlog"
	"github.com/stackforge-io/stackforge/internal/fsutil"
	"github.com/stackforge-io/stackforge/internal/pkgmgr"
)

// defaultModulefile is the rendered shape when a stage does not bring its
// own template. It follows the Environment Modules Tcl format.
const defaultModulefile = `#%Module1.0
## managed by stackforge, do not edit
module-whatis "{{ .Unit.Name }} {{ .Unit.Version }}"
setenv {{ .EnvVar }}_ROOT "{{ .Prefix }}"
prepend-path PATH "{{ .Prefix }}/bin"
prepend-path LD_LIBRARY_PATH "{{ .Prefix }}/lib"
{{- range .Unit.Dependencies }}
module load {{ . }}
{{- end }}
`

// modulefileData is the template payload for one rendered unit.
type modulefileData struct {
	Unit        pkgmgr.Unit
	Environment string
	Prefix      string
	EnvVar      string
}

// Modules renders one modulefile per installed unit under the modulefile
// root, so users can `module load` what a deployment installed. The stage
// publishes an index artifact named "<stage>.modules".
type Modules struct{}

func (m *Modules) Kind() string { return "modules" }

func (m *Modules) Execute(ctx context.Context, in *Input) (*Result, error) {
	if err := checkArgs(in, "template", "prefix_root"); err != nil {
		return nil, err
	}

	text, err := stringArgOr(in, "template", defaultModulefile)
	if err != nil {
		return nil, err
	}
	tmpl, err := template.New("modulefile").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing modulefile template: %w", err)
	}
	prefixRoot, err := stringArgOr(in, "prefix_root", in.Environment)
	if err != nil {
		return nil, err
	}

	units, err := in.PackageManager.ListInstalled(ctx, in.Environment)
	if err != nil {
		return nil, fmt.Errorf("enumerating installed units: %w", err)
	}

	root := filepath.Join(in.ModulefileRoot, filepath.Base(in.Environment))
	var rendered []string
	for _, unit := range units {
		data := modulefileData{
			Unit:        unit,
			Environment: in.Environment,
			Prefix:      filepath.Join(prefixRoot, unit.Name+"-"+unit.Version),
			EnvVar:      envVarName(unit.Name),
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("rendering modulefile for %s@%s: %w", unit.Name, unit.Version, err)
		}
		path := filepath.Join(root, unit.Name, unit.Version)
		if err := fsutil.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
			return nil, fmt.Errorf("writing modulefile for %s@%s: %w", unit.Name, unit.Version, err)
		}
		rendered = append(rendered, path)
	}

	ctxlog.FromContext(ctx).Info("modulefiles rendered",
		"stage", in.Stage.Name, "count", len(rendered), "root", root)

	name := in.Stage.Name + ".modules"
	index := filepath.Join(in.WorkDir, name)
	if err := fsutil.WriteFileAtomic(index, []byte(strings.Join(rendered, "\n")+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("writing modulefile index: %w", err)
	}

	return &Result{
		Artifacts: []Produced{{Name: name, Path: index}},
		Log:       fmt.Sprintf("rendered %d modulefiles under %s\n", len(rendered), root),
	}, nil
}

// envVarName maps a unit name to the variable prefix used inside the
// modulefile, e.g. "openmpi-4" becomes "OPENMPI_4".
func envVarName(unit string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r):
			return unicode.ToUpper(r)
		case unicode.IsDigit(r):
			return r
		default:
			return '_'
		}
	}, unit)
}
