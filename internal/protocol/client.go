package protocol

// Outbound methods sent by the client.
const (
	MethodClientStarted    = "client_started"
	MethodNewView          = "new_view"
	MethodCloseView        = "close_view"
	MethodSave             = "save"
	MethodSetTheme         = "set_theme"
	MethodEdit             = "edit"
	MethodModifyUserConfig = "modify_user_config"
)

// Edit sub-methods carried inside an edit notification.
const (
	EditInsert         = "insert"
	EditInsertNewline  = "insert_newline"
	EditDeleteBackward = "delete_backward"
	EditDeleteForward  = "delete_forward"
	EditMoveUp         = "move_up"
	EditMoveDown       = "move_down"
	EditMoveLeft       = "move_left"
	EditMoveRight      = "move_right"
	EditScroll         = "scroll"
	EditGesture        = "gesture"
	EditUndo           = "undo"
	EditRedo           = "redo"
)

// ClientStartedParams announces the client's directories.
type ClientStartedParams struct {
	ConfigDir       string `json:"config_dir,omitempty"`
	ClientExtrasDir string `json:"client_extras_dir,omitempty"`
}

// NewViewParams opens a view, optionally backed by a file.
type NewViewParams struct {
	FilePath string `json:"file_path,omitempty"`
}

// ViewParams addresses a view.
type ViewParams struct {
	ViewID string `json:"view_id"`
}

// SaveParams saves a view to a path.
type SaveParams struct {
	ViewID   string `json:"view_id"`
	FilePath string `json:"file_path"`
}

// SetThemeParams selects a theme by name.
type SetThemeParams struct {
	ThemeName string `json:"theme_name"`
}

// EditParams wraps a view-scoped edit command.
type EditParams struct {
	Method string `json:"method"`
	ViewID string `json:"view_id"`
	Params any    `json:"params"`
}

// InsertParams carries text to insert at each cursor.
type InsertParams struct {
	Chars string `json:"chars"`
}

// GestureParams describes a pointer gesture at a position.
type GestureParams struct {
	Line int    `json:"line"`
	Col  int    `json:"col"`
	Ty   string `json:"ty"`
}

// ModifyUserConfigParams changes settings in a config domain.
type ModifyUserConfigParams struct {
	Domain  any            `json:"domain"`
	Changes map[string]any `json:"changes"`
}

// ScrollRange is the visible line range [First, Last) sent with a scroll
// edit, so the engine can send the lines the renderer is missing.
func ScrollRange(first, last int) []int {
	return []int{first, last}
}
