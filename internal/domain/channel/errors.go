package channel

import "errors"

// Provisioning error kinds. Callers match them with errors.Is; the concrete
// cause stays in the chain next to the kind.
var (
	ErrTemplateMissing = errors.New("template unit missing")
	ErrWrite           = errors.New("write failed")
	ErrPathConflict    = errors.New("path conflict")
	ErrStore           = errors.New("store failed")
	ErrParse           = errors.New("parse failed")

	ErrNotFound     = errors.New("channel settings not found")
	ErrServiceInUse = errors.New("engine service already assigned")
)
