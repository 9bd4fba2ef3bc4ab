package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/linesync/internal/config"
	"github.com/dshills/linesync/internal/protocol"
)

// ErrNoView is returned for edits addressed to a view that is not open.
var ErrNoView = errors.New("no such view")

// ClientStarted announces the client to the engine.
func (s *Session) ClientStarted(configDir, extrasDir string) error {
	return s.conn.Notify(protocol.MethodClientStarted, protocol.ClientStartedParams{
		ConfigDir:       configDir,
		ClientExtrasDir: extrasDir,
	})
}

// NewView opens a view, backed by filePath when it is not empty, and blocks
// until the engine replies with the view id.
func (s *Session) NewView(ctx context.Context, filePath string) (*View, error) {
	var id string
	if err := s.conn.CallSync(ctx, protocol.MethodNewView, protocol.NewViewParams{FilePath: filePath}, &id); err != nil {
		return nil, fmt.Errorf("new view: %w", err)
	}
	if id == "" {
		return nil, fmt.Errorf("new view: %w: empty view id", protocol.ErrMissingField)
	}
	v := s.viewFor(id)
	s.log.Info("view opened", "view", id, "file", filePath)
	return v, nil
}

// CloseView closes a view and forgets its cache.
func (s *Session) CloseView(viewID string) error {
	v, ok := s.View(viewID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoView, viewID)
	}
	s.dropView(v.id)
	return s.conn.Notify(protocol.MethodCloseView, protocol.ViewParams{ViewID: v.id})
}

// Save writes a view to filePath.
func (s *Session) Save(viewID, filePath string) error {
	v, ok := s.View(viewID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoView, viewID)
	}
	return s.conn.Notify(protocol.MethodSave, protocol.SaveParams{ViewID: v.id, FilePath: filePath})
}

// SetTheme asks the engine to switch themes. The engine answers with
// theme_changed and fresh style definitions.
func (s *Session) SetTheme(name string) error {
	return s.conn.Notify(protocol.MethodSetTheme, protocol.SetThemeParams{ThemeName: name})
}

// ModifyUserConfig changes settings in a config domain.
func (s *Session) ModifyUserConfig(domain any, changes map[string]any) error {
	return s.conn.Notify(protocol.MethodModifyUserConfig, protocol.ModifyUserConfigParams{
		Domain:  domain,
		Changes: changes,
	})
}

// Edit sends a view-scoped edit command. params may be nil for commands
// without arguments.
func (s *Session) Edit(viewID, method string, params any) error {
	v, ok := s.View(viewID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoView, viewID)
	}
	if params == nil {
		params = []any{}
	}
	return s.conn.Notify(protocol.MethodEdit, protocol.EditParams{
		Method: method,
		ViewID: v.id,
		Params: params,
	})
}

// Insert inserts chars at every cursor.
func (s *Session) Insert(viewID, chars string) error {
	return s.Edit(viewID, protocol.EditInsert, protocol.InsertParams{Chars: chars})
}

// Scroll tells the engine which lines are visible so it can send the ones
// the cache is missing.
func (s *Session) Scroll(viewID string, first, last int) error {
	return s.Edit(viewID, protocol.EditScroll, protocol.ScrollRange(first, last))
}

// Gesture sends a pointer gesture at a position.
func (s *Session) Gesture(viewID string, line, col int, ty string) error {
	return s.Edit(viewID, protocol.EditGesture, protocol.GestureParams{Line: line, Col: col, Ty: ty})
}

// UserConfigDomain is the config domain that applies to every view.
const UserConfigDomain = "general"

// ApplyConfig reacts to a live configuration change. A tab width change is
// passed on to the engine and flushes every cache's associated data, since
// renderers lay out tabs.
func (s *Session) ApplyConfig(old, cur config.Config) {
	if cur.View.Theme != old.View.Theme && cur.View.Theme != "" {
		if err := s.SetTheme(cur.View.Theme); err != nil {
			s.log.Warn("set theme failed", "theme", cur.View.Theme, "error", err)
		}
	}
	if cur.View.TabWidth != old.View.TabWidth {
		s.log.Info("tab width changed", "from", old.View.TabWidth, "to", cur.View.TabWidth)
		changes := map[string]any{"tab_size": cur.View.TabWidth}
		if err := s.ModifyUserConfig(UserConfigDomain, changes); err != nil {
			s.log.Warn("modify user config failed", "error", err)
		}
		s.flushAll()
	}
	if cur.Cache.BlockingTimeoutMs != old.Cache.BlockingTimeoutMs {
		cc := cacheConfig(cur)
		s.mu.Lock()
		s.cacheConfig = cc
		s.mu.Unlock()
		for _, v := range s.allViews() {
			v.cache.SetConfig(cc)
		}
	}
}
