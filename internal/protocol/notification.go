package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound notification methods.
const (
	MethodUpdate           = "update"
	MethodScrollTo         = "scroll_to"
	MethodDefStyle         = "def_style"
	MethodThemeChanged     = "theme_changed"
	MethodAvailableThemes  = "available_themes"
	MethodConfigChanged    = "config_changed"
	MethodPluginStarted    = "plugin_started"
	MethodPluginStopped    = "plugin_stopped"
	MethodAvailablePlugins = "available_plugins"
	MethodLanguageChanged  = "language_changed"
	MethodAlert            = "alert"
)

// ErrMissingField is wrapped by decode errors for payloads lacking a
// required field.
var ErrMissingField = errors.New("missing required field")

// Notification is an inbound message that expects no reply.
// The set of implementations is closed; Unknown covers everything else.
type Notification interface {
	Method() string
	notification()
}

// Update carries one delta for a view's line cache.
type Update struct {
	ViewID string
	Delta  UpdateDelta
}

// ScrollTo asks the renderer to bring a position into view.
type ScrollTo struct {
	ViewID string `json:"view_id"`
	Line   int    `json:"line"`
	Col    int    `json:"col"`
}

// DefStyle defines or redefines a style id. Colors are ARGB.
type DefStyle struct {
	ID        int     `json:"id"`
	FgColor   *uint32 `json:"fg_color,omitempty"`
	BgColor   *uint32 `json:"bg_color,omitempty"`
	Weight    int     `json:"weight,omitempty"`
	Italic    bool    `json:"italic,omitempty"`
	Underline bool    `json:"underline,omitempty"`
}

// ThemeChanged reports the active theme. Theme settings are kept raw since
// the renderer decides which ones it honors.
type ThemeChanged struct {
	Name  string          `json:"name"`
	Theme json.RawMessage `json:"theme,omitempty"`
}

// AvailableThemes lists theme names the engine knows.
type AvailableThemes struct {
	Themes []string `json:"themes"`
}

// ConfigChanged reports changed view settings.
type ConfigChanged struct {
	ViewID  string         `json:"view_id"`
	Changes map[string]any `json:"changes"`
}

// PluginStarted reports a plugin starting for a view.
type PluginStarted struct {
	ViewID string `json:"view_id"`
	Plugin string `json:"plugin"`
}

// PluginStopped reports a plugin stopping, with its exit code.
type PluginStopped struct {
	ViewID string `json:"view_id"`
	Plugin string `json:"plugin"`
	Code   int    `json:"code"`
}

// PluginInfo describes one available plugin.
type PluginInfo struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
}

// AvailablePlugins lists plugins for a view.
type AvailablePlugins struct {
	ViewID  string       `json:"view_id"`
	Plugins []PluginInfo `json:"plugins"`
}

// LanguageChanged reports a view's language id.
type LanguageChanged struct {
	ViewID     string `json:"view_id"`
	LanguageID string `json:"language_id"`
}

// Alert is a message the engine wants shown to the user.
type Alert struct {
	Msg string `json:"msg"`
}

// Unknown is any notification whose method is not recognized.
type Unknown struct {
	Name   string
	Params json.RawMessage
}

func (Update) Method() string           { return MethodUpdate }
func (ScrollTo) Method() string         { return MethodScrollTo }
func (DefStyle) Method() string         { return MethodDefStyle }
func (ThemeChanged) Method() string     { return MethodThemeChanged }
func (AvailableThemes) Method() string  { return MethodAvailableThemes }
func (ConfigChanged) Method() string    { return MethodConfigChanged }
func (PluginStarted) Method() string    { return MethodPluginStarted }
func (PluginStopped) Method() string    { return MethodPluginStopped }
func (AvailablePlugins) Method() string { return MethodAvailablePlugins }
func (LanguageChanged) Method() string  { return MethodLanguageChanged }
func (Alert) Method() string            { return MethodAlert }
func (u Unknown) Method() string        { return u.Name }

func (Update) notification()           {}
func (ScrollTo) notification()         {}
func (DefStyle) notification()         {}
func (ThemeChanged) notification()     {}
func (AvailableThemes) notification()  {}
func (ConfigChanged) notification()    {}
func (PluginStarted) notification()    {}
func (PluginStopped) notification()    {}
func (AvailablePlugins) notification() {}
func (LanguageChanged) notification()  {}
func (Alert) notification()            {}
func (Unknown) notification()          {}

// updateParams accepts both the view-addressed form
// {"view_id": ..., "update": {"ops": ...}} and a bare {"ops": ...} payload.
type updateParams struct {
	ViewID   string       `json:"view_id"`
	Update   *UpdateDelta `json:"update"`
	Ops      []UpdateOp   `json:"ops"`
	Pristine *bool        `json:"pristine"`
}

// DecodeNotification decodes params into the variant selected by method.
// Unrecognized methods decode to Unknown without error.
func DecodeNotification(method string, params json.RawMessage) (Notification, error) {
	switch method {
	case MethodUpdate:
		var p updateParams
		if err := unmarshalParams(method, params, &p); err != nil {
			return nil, err
		}
		if p.Update != nil {
			return Update{ViewID: p.ViewID, Delta: *p.Update}, nil
		}
		if p.Ops == nil {
			return nil, fmt.Errorf("%s: ops: %w", method, ErrMissingField)
		}
		return Update{ViewID: p.ViewID, Delta: UpdateDelta{Ops: p.Ops, Pristine: p.Pristine}}, nil
	case MethodScrollTo:
		return decodeInto[ScrollTo](method, params)
	case MethodDefStyle:
		var probe struct {
			ID *int `json:"id"`
		}
		if err := unmarshalParams(method, params, &probe); err != nil {
			return nil, err
		}
		if probe.ID == nil {
			return nil, fmt.Errorf("%s: id: %w", method, ErrMissingField)
		}
		return decodeInto[DefStyle](method, params)
	case MethodThemeChanged:
		return decodeInto[ThemeChanged](method, params)
	case MethodAvailableThemes:
		return decodeInto[AvailableThemes](method, params)
	case MethodConfigChanged:
		return decodeInto[ConfigChanged](method, params)
	case MethodPluginStarted:
		return decodeInto[PluginStarted](method, params)
	case MethodPluginStopped:
		return decodeInto[PluginStopped](method, params)
	case MethodAvailablePlugins:
		return decodeInto[AvailablePlugins](method, params)
	case MethodLanguageChanged:
		return decodeInto[LanguageChanged](method, params)
	case MethodAlert:
		return decodeInto[Alert](method, params)
	default:
		return Unknown{Name: method, Params: params}, nil
	}
}

func decodeInto[T Notification](method string, params json.RawMessage) (Notification, error) {
	var v T
	if err := unmarshalParams(method, params, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func unmarshalParams(method string, params json.RawMessage, v any) error {
	if len(params) == 0 {
		return fmt.Errorf("%s: params: %w", method, ErrMissingField)
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("%s: decode params: %w", method, err)
	}
	return nil
}
