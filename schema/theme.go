package schema

// ThemeName identifies a UI theme.
type ThemeName string

const (
	ThemeLight ThemeName = "light"
	ThemeDark  ThemeName = "dark"
)

// DefaultTheme is used when no preference is stored.
const DefaultTheme = ThemeLight

// NormalizeTheme maps unknown values to the default theme.
func NormalizeTheme(name ThemeName) ThemeName {
	switch name {
	case ThemeLight, ThemeDark:
		return name
	default:
		return DefaultTheme
	}
}

// Toggle returns the opposite theme.
func (t ThemeName) Toggle() ThemeName {
	if NormalizeTheme(t) == ThemeDark {
		return ThemeLight
	}
	return ThemeDark
}
