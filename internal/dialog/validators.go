package dialog

import (
	"regexp"
	"strings"
)

// Profile fields editable via ProfileEdit; values double as button tags.
const (
	FieldName   = "name"
	FieldPhone  = "phone"
	FieldHeight = "height"
	FieldWeight = "weight"
)

const nameToken = `\p{Lu}\p{Ll}+(?:-\p{Lu}\p{Ll}+)*`

var (
	// Three capitalized tokens, hyphenated surnames allowed.
	nameRe   = regexp.MustCompile(`^` + nameToken + ` ` + nameToken + ` ` + nameToken + `$`)
	phoneRe  = regexp.MustCompile(`^\+7[0-9]{10}$`)
	heightRe = regexp.MustCompile(`^[1-2][0-9][0-9]$`)
	weightRe = regexp.MustCompile(`^(?:[1-9][0-9]|[1-2][0-9][0-9])$`)
)

func ValidName(value string) bool   { return nameRe.MatchString(value) }
func ValidPhone(value string) bool  { return phoneRe.MatchString(value) }
func ValidHeight(value string) bool { return heightRe.MatchString(value) }
func ValidWeight(value string) bool { return weightRe.MatchString(value) }

// ValidateField checks one profile field value against its rule.
func ValidateField(field, value string) error {
	switch field {
	case FieldName:
		if !ValidName(value) {
			return ValidationError("ФИО должно состоять из трёх слов, каждое с заглавной буквы")
		}
	case FieldPhone:
		if !ValidPhone(value) {
			return ValidationError("Номер телефона укажите в формате +7XXXXXXXXXX")
		}
	case FieldHeight:
		if !ValidHeight(value) {
			return ValidationError("Рост укажите числом от 100 до 299")
		}
	case FieldWeight:
		if !ValidWeight(value) {
			return ValidationError("Вес укажите числом от 10 до 299")
		}
	default:
		return ValidationError("Неизвестное поле")
	}
	return nil
}

// RegistrationFields is the parsed registration payload.
type RegistrationFields struct {
	Name   string
	Phone  string
	Height string
	Weight string
}

// ParseRegistration splits the single registration message into its four
// fields. Fields come one per line; a single-line message of six
// space-delimited tokens (three of them the name) is accepted too.
func ParseRegistration(text string) (RegistrationFields, error) {
	var parts []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			parts = append(parts, line)
		}
	}

	if len(parts) == 1 {
		tokens := strings.Fields(parts[0])
		if len(tokens) == 6 {
			parts = []string{
				strings.Join(tokens[:3], " "),
				tokens[3],
				tokens[4],
				tokens[5],
			}
		}
	}

	if len(parts) != 4 {
		return RegistrationFields{}, ValidationError("Введите как показано в примере")
	}

	fields := RegistrationFields{
		Name:   parts[0],
		Phone:  parts[1],
		Height: parts[2],
		Weight: parts[3],
	}

	if err := ValidateField(FieldName, fields.Name); err != nil {
		return RegistrationFields{}, err
	}
	if err := ValidateField(FieldPhone, fields.Phone); err != nil {
		return RegistrationFields{}, err
	}
	if err := ValidateField(FieldHeight, fields.Height); err != nil {
		return RegistrationFields{}, err
	}
	if err := ValidateField(FieldWeight, fields.Weight); err != nil {
		return RegistrationFields{}, err
	}
	return fields, nil
}
