package supervisor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/edirooss/playout-server/internal/domain/channel"
	"go.uber.org/zap"
	"gopkg.in/ini.v1"
)

// Defaults match the layout of a stock ffplayout installation.
const (
	DefaultConfDir        = "/etc/ffplayout/supervisor/conf.d"
	DefaultTemplate       = "engine-001"
	DefaultEngineCommand  = "/opt/ffplayout_engine/venv/bin/python ffplayout.py -c %s"
	DefaultLogFile        = "/var/log/ffplayout/engine-%s.log"
)

// Directive keys rewritten when deriving a unit from the template.
const (
	KeyCommand       = "command"
	KeyStdoutLogfile = "stdout_logfile"
)

// unitTemplate renders one program section in the layout supervisord reads
// (python configparser style; continuation lines are tab-indented).
const unitTemplate = `[{{ .Name }}]
{{- range .Directives }}
{{ .Key }} = {{ continued .Value }}
{{- end }}

`

// loadOptions follow python configparser semantics, which is what supervisord uses:
// keys are case-insensitive, ';' inside values is literal, indented lines continue
// a value and a trailing backslash does not.
var loadOptions = ini.LoadOptions{
	InsensitiveKeys:            true,
	IgnoreInlineComment:        true,
	AllowPythonMultilineValues: true,
	PreserveSurroundedQuote:    true,
	IgnoreContinuation:         true,
}

// ProcessEntry is one [program:<name>] section.
type ProcessEntry struct {
	Name       string
	Directives Directives
}

// ProgramSection returns the section name "program:<ref>".
func ProgramSection(ref channel.ServiceRef) string { return "program:" + ref.String() }

// WriteTo renders e as a standalone unit file.
func (e ProcessEntry) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	if err := unitTmpl.Execute(&buf, e); err != nil {
		return 0, fmt.Errorf("execute template: %w", err)
	}
	return buf.WriteTo(w)
}

var unitTmpl = template.Must(template.New("unit").Funcs(template.FuncMap{
	"continued": func(v string) string { return strings.ReplaceAll(v, "\n", "\n\t") },
}).Parse(unitTemplate))

// ReadEntry loads section from the unit file at path.
func ReadEntry(path, section string) (ProcessEntry, error) {
	f, err := ini.LoadSources(loadOptions, path)
	if err != nil {
		return ProcessEntry{}, fmt.Errorf("%w: load %s: %w", channel.ErrParse, path, err)
	}
	sec, err := f.GetSection(section)
	if err != nil {
		return ProcessEntry{}, fmt.Errorf("%w: no section %q in %s", channel.ErrTemplateMissing, section, path)
	}

	entry := ProcessEntry{Name: section}
	for _, k := range sec.Keys() {
		entry.Directives = append(entry.Directives, Directive{Key: k.Name(), Value: k.Value()})
	}
	return entry, nil
}

// Config describes where units live and how derived units launch the engine.
type Config struct {
	ConfDir        string // directory holding <service>.conf files
	Template       string // service of the known-good unit, e.g. "engine-001"
	EngineCommand  string // fmt pattern; %s = channel config path
	LogFile        string // fmt pattern; %s = channel number
}

func (c *Config) setDefaults() {
	if c.ConfDir == "" {
		c.ConfDir = DefaultConfDir
	}
	if c.Template == "" {
		c.Template = DefaultTemplate
	}
	if c.EngineCommand == "" {
		c.EngineCommand = DefaultEngineCommand
	}
	if c.LogFile == "" {
		c.LogFile = DefaultLogFile
	}
}

// Units manages the supervisor unit files of engine services.
type Units struct {
	log *zap.Logger
	cfg Config
}

// NewUnits returns a Units rooted at cfg.ConfDir.
func NewUnits(log *zap.Logger, cfg Config) *Units {
	cfg.setDefaults()
	return &Units{log: log.Named("supervisor"), cfg: cfg}
}

// Dir returns the unit directory.
func (u *Units) Dir() string { return u.cfg.ConfDir }

// Path returns the unit file path of ref.
func (u *Units) Path(ref channel.ServiceRef) string {
	return filepath.Join(u.cfg.ConfDir, ref.String()+".conf")
}

// TemplateRef returns the service of the template unit. Every derived unit
// comes from this one, whatever the base of the requested service.
func (u *Units) TemplateRef() (channel.ServiceRef, error) {
	return channel.ParseServiceRef(u.cfg.Template)
}

// SectionRef returns the program name written into ref's unit: the template's
// base with ref's suffix ("playout-007" -> "engine-007"). The file name still
// follows ref.
func (u *Units) SectionRef(ref channel.ServiceRef) (channel.ServiceRef, error) {
	tref, err := u.TemplateRef()
	if err != nil {
		return channel.ServiceRef{}, err
	}
	return tref.WithSuffix(ref.Suffix), nil
}

// Exists reports whether a unit file exists for ref.
func (u *Units) Exists(ref channel.ServiceRef) (bool, error) {
	return regularFileExists(u.Path(ref))
}

// TemplateExists reports whether the template unit exists.
func (u *Units) TemplateExists() (bool, error) {
	tref, err := u.TemplateRef()
	if err != nil {
		return false, err
	}
	return u.Exists(tref)
}

// Template loads the template program section.
func (u *Units) Template() (ProcessEntry, error) {
	tref, err := u.TemplateRef()
	if err != nil {
		return ProcessEntry{}, err
	}
	ok, err := u.Exists(tref)
	if err != nil {
		return ProcessEntry{}, err
	}
	if !ok {
		return ProcessEntry{}, fmt.Errorf("%w: %s", channel.ErrTemplateMissing, u.Path(tref))
	}
	return ReadEntry(u.Path(tref), ProgramSection(tref))
}

// Derive builds the entry for ref from tmpl. Every directive is copied in order;
// command and stdout_logfile are replaced. The section is named after SectionRef.
func (u *Units) Derive(tmpl ProcessEntry, ref channel.ServiceRef, configPath string) (ProcessEntry, error) {
	sref, err := u.SectionRef(ref)
	if err != nil {
		return ProcessEntry{}, err
	}

	derived := make(Directives, 0, len(tmpl.Directives))
	for _, kv := range tmpl.Directives {
		switch kv.Key {
		case KeyCommand:
			kv.Value = escapePercent(fmt.Sprintf(u.cfg.EngineCommand, configPath))
		case KeyStdoutLogfile:
			kv.Value = escapePercent(fmt.Sprintf(u.cfg.LogFile, ref.Number()))
		}
		derived = append(derived, kv)
	}
	return ProcessEntry{Name: ProgramSection(sref), Directives: derived}, nil
}

// EnsureProcessEntry writes <ConfDir>/<serviceRef>.conf derived from the template unit.
// It reports whether a file was created; an existing unit is left untouched.
func (u *Units) EnsureProcessEntry(serviceRef, configPath string) (bool, error) {
	ref, err := channel.ParseServiceRef(serviceRef)
	if err != nil {
		return false, err
	}

	ok, err := u.Exists(ref)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}

	tmpl, err := u.Template()
	if err != nil {
		return false, err
	}
	entry, err := u.Derive(tmpl, ref, configPath)
	if err != nil {
		return false, err
	}

	created, err := u.write(u.Path(ref), entry)
	if err != nil {
		return false, err
	}
	if created {
		u.log.Info("unit created",
			zap.String("service", ref.String()),
			zap.String("section", entry.Name),
			zap.String("path", u.Path(ref)),
			zap.String("config", configPath),
		)
	}
	return created, nil
}

// write creates path exclusively. Losing a creation race is not an error.
func (u *Units) write(path string, entry ProcessEntry) (bool, error) {
	var buf bytes.Buffer
	if _, err := entry.WriteTo(&buf); err != nil {
		return false, fmt.Errorf("%w: render %s: %w", channel.ErrWrite, entry.Name, err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("%w: create unit file: %w", channel.ErrWrite, err)
	}

	if _, err := buf.WriteTo(file); err != nil {
		file.Close()
		_ = os.Remove(path) // best-effort cleanup
		return false, fmt.Errorf("%w: write unit file: %w", channel.ErrWrite, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		_ = os.Remove(path)
		return false, fmt.Errorf("%w: sync unit file: %w", channel.ErrWrite, err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return false, fmt.Errorf("%w: close unit file: %w", channel.ErrWrite, err)
	}
	return true, nil
}

// supervisord expands %(name)s in values; literal percent signs must be doubled.
func escapePercent(s string) string { return strings.ReplaceAll(s, "%", "%%") }

func regularFileExists(path string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if !fi.Mode().IsRegular() {
		return false, fmt.Errorf("%w: %s is not a regular file", channel.ErrPathConflict, path)
	}
	return true, nil
}
