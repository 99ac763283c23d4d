package storage

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/ivanov-nikolay/design_tools/internal/config"
)

var (
	unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
	sessionIDFormat = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// NewSessionID генерирует идентификатор сессии, пригодный для пути и URL
func NewSessionID() string {
	return uuid.NewString()
}

// ValidSessionID проверяет, что идентификатор можно использовать как сегмент пути
func ValidSessionID(id string) bool {
	return sessionIDFormat.MatchString(id) && !strings.HasPrefix(id, config.ReservedPrefix)
}

// SanitizeName заменяет все символы, кроме букв, цифр, '.', '_' и '-', на '_'
func SanitizeName(name string) string {
	name = unsafeNameChars.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}

// validFileName имя совпадает со своей очищенной версией
func validFileName(name string) bool {
	return name != "" && SanitizeName(name) == name
}

// UniqueName подбирает имя, которого еще нет в каталоге: name.ext, name-1.ext, name-2.ext...
func UniqueName(fs afero.Fs, dir, name string) (string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	// .bashrc: точка в начале имени не отделяет расширение
	if base == "" {
		base, ext = name, ""
	}

	candidate := name
	for counter := 1; ; counter++ {
		exists, err := afero.Exists(fs, filepath.Join(dir, candidate))
		if err != nil {
			return "", fmt.Errorf("failed to check %s: %w", candidate, err)
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d%s", base, counter, ext)
	}
}
