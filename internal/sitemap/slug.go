package sitemap

import (
	"regexp"
	"strings"

	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

var cyrillicToLatin = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ё': "e", 'ж': "zh", 'з': "z", 'и': "i",
	'й': "y", 'к': "k", 'л': "l", 'м': "m", 'н': "n", 'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t",
	'у': "u", 'ф': "f", 'х': "h", 'ц': "ts", 'ч': "ch", 'ш': "sh", 'щ': "sch", 'ъ': "", 'ы': "y",
	'ь': "", 'э': "e", 'ю': "yu", 'я': "ya",
	'А': "A", 'Б': "B", 'В': "V", 'Г': "G", 'Д': "D", 'Е': "E", 'Ё': "E", 'Ж': "Zh", 'З': "Z", 'И': "I",
	'Й': "Y", 'К': "K", 'Л': "L", 'М': "M", 'Н': "N", 'О': "O", 'П': "P", 'Р': "R", 'С': "S", 'Т': "T",
	'У': "U", 'Ф': "F", 'Х': "H", 'Ц': "Ts", 'Ч': "Ch", 'Ш': "Sh", 'Щ': "Sch", 'Ъ': "", 'Ы': "Y",
	'Ь': "", 'Э': "E", 'Ю': "Yu", 'Я': "Ya",
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Transliterate replaces Cyrillic letters with their Latin spelling. Other runes pass through.
func Transliterate(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if latin, ok := cyrillicToLatin[r]; ok {
			b.WriteString(latin)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Slug builds the URL path segment for a catalog entry, e.g. "dji-mavic-3-42".
func Slug(title string, id models.ItemID) string {
	base := nonSlugChars.ReplaceAllString(strings.ToLower(Transliterate(title)), "-")
	base = strings.Trim(base, "-")
	if base == "" {
		return id.String()
	}
	return base + "-" + id.String()
}
