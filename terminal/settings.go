package terminal

// Settings is the process-wide visual/behavioral settings object. It is
// broadcast-written by the session registry; engines apply patches locally
// and never write back to the shared copy.
type Settings struct {
	FontSize   int    `json:"font_size"`
	Background string `json:"background"`
	Foreground string `json:"foreground"`
}

// SettingsPatch is a partial settings update. Nil fields are left unchanged.
type SettingsPatch struct {
	FontSize   *int    `json:"font_size,omitempty"`
	Background *string `json:"background,omitempty"`
	Foreground *string `json:"foreground,omitempty"`
}

// Apply merges the patch into s and reports whether a font-affecting field
// changed, which requires a surface refit.
func (s *Settings) Apply(p SettingsPatch) (fontChanged bool) {
	if p.FontSize != nil && *p.FontSize != s.FontSize {
		s.FontSize = *p.FontSize
		fontChanged = true
	}
	if p.Background != nil {
		s.Background = *p.Background
	}
	if p.Foreground != nil {
		s.Foreground = *p.Foreground
	}
	return fontChanged
}
