package services

import (
	"regexp"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/velvetwardrobe/storefront/internal/domain"
)

// Field names read from a submission snapshot.
const (
	FieldName            = "name"
	FieldEmail           = "email"
	FieldTopic           = "topic"
	FieldMessage         = "message"
	FieldPassword        = "password"
	FieldConfirmPassword = "confirmPassword"
)

const (
	minContactMessageLength = 20
	minPasswordLength       = 8
)

// Contact form messages.
const (
	ContactIncompleteMessage    = "Please complete every field before sending your message."
	ContactInvalidEmailMessage  = "Enter a valid email address so we can respond to you."
	ContactShortMessage         = "Tell us more—your message should be at least 20 characters long."
	ContactAcceptedMessage      = "Message sent successfully."
	ContactAcceptedToastMessage = "Thank you! A stylist will connect with you soon."
)

// Registration form messages.
const (
	RegistrationIncompleteMessage    = "Fill out every detail to create your membership."
	RegistrationInvalidEmailMessage  = "Enter a valid email to receive exclusive invites."
	RegistrationShortPasswordMessage = "Your password must contain at least 8 characters."
	RegistrationMismatchMessage      = "The passwords do not match—please try again."
	RegistrationPendingMessage       = "Attempting to register..."
)

// emailPattern accepts anything shaped like local@domain.tld. Whitespace covers the Unicode
// space separators as well as ASCII whitespace.
var emailPattern = regexp.MustCompile(`^[^\s\x0B\p{Zs}\x{2028}\x{2029}\x{FEFF}@]+@[^\s\x0B\p{Zs}\x{2028}\x{2029}\x{FEFF}@]+\.[^\s\x0B\p{Zs}\x{2028}\x{2029}\x{FEFF}@]+$`)

// ValidEmail reports whether value has the local@domain.tld shape.
func ValidEmail(value string) bool {
	return emailPattern.MatchString(value)
}

// characterCount counts code points after NFC composition, so a precomposed and a
// decomposed accent count the same.
func characterCount(value string) int {
	return utf8.RuneCountInString(norm.NFC.String(value))
}

func rejected(message string) domain.ValidationVerdict {
	return domain.ValidationVerdict{Accepted: false, Message: message}
}

// ValidateContact checks the contact form. The first failing rule decides the message.
func ValidateContact(fields FormFieldSnapshot) domain.ValidationVerdict {
	name := fields.Value(FieldName)
	email := fields.Value(FieldEmail)
	topic := fields.Value(FieldTopic)
	message := fields.Value(FieldMessage)

	if name == "" || email == "" || topic == "" || message == "" {
		return rejected(ContactIncompleteMessage)
	}
	if !ValidEmail(email) {
		return rejected(ContactInvalidEmailMessage)
	}
	if characterCount(message) < minContactMessageLength {
		return rejected(ContactShortMessage)
	}
	return domain.ValidationVerdict{Accepted: true, Message: ContactAcceptedMessage}
}

// ValidateRegistration checks the registration form. The first failing rule decides the message.
func ValidateRegistration(fields FormFieldSnapshot) domain.ValidationVerdict {
	name := fields.Value(FieldName)
	email := fields.Value(FieldEmail)
	password := fields.Value(FieldPassword)
	confirm := fields.Value(FieldConfirmPassword)

	if name == "" || email == "" || password == "" || confirm == "" {
		return rejected(RegistrationIncompleteMessage)
	}
	if !ValidEmail(email) {
		return rejected(RegistrationInvalidEmailMessage)
	}
	if characterCount(password) < minPasswordLength {
		return rejected(RegistrationShortPasswordMessage)
	}
	if password != confirm {
		return rejected(RegistrationMismatchMessage)
	}
	return domain.ValidationVerdict{Accepted: true, Message: RegistrationPendingMessage}
}
