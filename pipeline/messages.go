package pipeline

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	socialauth "github.com/goliatone/go-socialauth"
)

// Message keys. They double as the English text.
const (
	msgBackendError          = "Backend error: %s"
	msgWrongBackend          = "Incorrect authentication service \"%s\""
	msgAuthFailed            = "Authentication failed: %s"
	msgAuthFailedDenied      = "Authentication process was cancelled"
	msgAuthCanceled          = "Authentication process canceled"
	msgAuthUnknownError      = "An unknown error happened while authenticating %s"
	msgAuthTokenError        = "Token error: %s"
	msgAuthMissingParameter  = "Missing needed parameter %s"
	msgAuthStateMissing      = "Session value state missing."
	msgAuthStateForbidden    = "Wrong state parameter given."
	msgAuthAlreadyAssociated = "This %s account is already in use."
	msgAuthTokenRevoked      = "User revoke access to the token"
	msgNotAllowedDisconnect  = "Not allowed to disconnect %s"
	msgStopPipeline          = "Stop pipeline"
	msgDuplicateIdentity     = "This %s account is already linked to another user."
	msgMalformedData         = "Malformed %s data"
	msgProviderLinked        = "A %s account is already linked to this user."
	msgStoreTimeout          = "The request timed out, please try again."
	msgStoreUnavailable      = "The service is temporarily unavailable, please try again."
)

var spanish = map[string]string{
	msgBackendError:          "Error del proveedor: %s",
	msgWrongBackend:          "Servicio de autenticación incorrecto \"%s\"",
	msgAuthFailed:            "La autenticación falló: %s",
	msgAuthFailedDenied:      "El proceso de autenticación fue cancelado",
	msgAuthCanceled:          "Proceso de autenticación cancelado",
	msgAuthUnknownError:      "Ocurrió un error desconocido al autenticar %s",
	msgAuthTokenError:        "Error de token: %s",
	msgAuthMissingParameter:  "Falta el parámetro requerido %s",
	msgAuthStateMissing:      "Falta el valor de estado en la sesión.",
	msgAuthStateForbidden:    "Parámetro de estado incorrecto.",
	msgAuthAlreadyAssociated: "Esta cuenta de %s ya está en uso.",
	msgAuthTokenRevoked:      "El usuario revocó el acceso al token",
	msgNotAllowedDisconnect:  "No se permite desconectar %s",
	msgStopPipeline:          "Detener el flujo",
	msgDuplicateIdentity:     "Esta cuenta de %s ya está vinculada a otro usuario.",
	msgMalformedData:         "Datos de %s mal formados",
	msgProviderLinked:        "Ya hay una cuenta de %s vinculada a este usuario.",
	msgStoreTimeout:          "La solicitud expiró, inténtelo de nuevo.",
	msgStoreUnavailable:      "El servicio no está disponible temporalmente, inténtelo de nuevo.",
}

// Messages renders outcomes as user facing text.
type Messages struct {
	catalog   catalog.Catalog
	languages []language.Tag
	matcher   language.Matcher
}

// NewMessages builds the English and Spanish catalog. extra is applied on
// top so drivers can add languages or override strings; its keys are the
// English format strings.
func NewMessages(extra map[language.Tag]map[string]string) (*Messages, error) {
	b := catalog.NewBuilder(catalog.Fallback(language.English))

	for _, key := range allKeys() {
		if err := b.SetString(language.English, key, key); err != nil {
			return nil, err
		}
	}
	for key, msg := range spanish {
		if err := b.SetString(language.Spanish, key, msg); err != nil {
			return nil, err
		}
	}
	for tag, msgs := range extra {
		for key, msg := range msgs {
			if err := b.SetString(tag, key, msg); err != nil {
				return nil, err
			}
		}
	}

	languages := b.Languages()
	return &Messages{catalog: b, languages: languages, matcher: language.NewMatcher(languages)}, nil
}

// Languages lists the tags with at least one translated string.
func (m *Messages) Languages() []language.Tag {
	return append([]language.Tag(nil), m.languages...)
}

// Render returns the localized message for err. Errors that carry no
// outcome render as AuthUnknownError.
func (m *Messages) Render(tag language.Tag, err error) string {
	if err == nil {
		return ""
	}
	o, ok := socialauth.AsOutcome(err)
	if !ok {
		o = socialauth.AuthUnknownError("", err)
	}

	p := message.NewPrinter(m.match(tag), message.Catalog(m.catalog))
	key, args := messageFor(o)
	return p.Sprintf(key, args...)
}

func (m *Messages) match(tag language.Tag) language.Tag {
	_, idx, conf := m.matcher.Match(tag)
	if conf == language.No {
		return language.English
	}
	return m.languages[idx]
}

func messageFor(o *socialauth.Outcome) (string, []any) {
	switch o.Kind {
	case socialauth.KindBackendError:
		return msgBackendError, []any{o.Message}
	case socialauth.KindWrongBackend:
		return msgWrongBackend, []any{o.Backend}
	case socialauth.KindAuthFailed:
		if o.Reason == "access_denied" {
			return msgAuthFailedDenied, nil
		}
		return msgAuthFailed, []any{o.Reason}
	case socialauth.KindAuthCanceled:
		return msgAuthCanceled, nil
	case socialauth.KindAuthUnknownError:
		return msgAuthUnknownError, []any{firstNonEmpty(o.Backend, o.Message)}
	case socialauth.KindAuthTokenError:
		return msgAuthTokenError, []any{o.Message}
	case socialauth.KindAuthMissingParameter:
		return msgAuthMissingParameter, []any{o.Parameter}
	case socialauth.KindAuthStateMissing:
		return msgAuthStateMissing, nil
	case socialauth.KindAuthStateForbidden:
		return msgAuthStateForbidden, nil
	case socialauth.KindAuthAlreadyAssociated:
		return msgAuthAlreadyAssociated, []any{o.Backend}
	case socialauth.KindAuthTokenRevoked:
		return msgAuthTokenRevoked, nil
	case socialauth.KindNotAllowedToDisconnect:
		return msgNotAllowedDisconnect, []any{o.Backend}
	case socialauth.KindStopPipeline:
		return msgStopPipeline, nil
	case socialauth.KindDuplicateIdentity:
		return msgDuplicateIdentity, []any{o.Backend}
	case socialauth.KindMalformedData:
		return msgMalformedData, []any{o.Field}
	case socialauth.KindProviderAlreadyLinked:
		return msgProviderLinked, []any{o.Backend}
	case socialauth.KindStoreTimeout:
		return msgStoreTimeout, nil
	case socialauth.KindStoreUnavailable:
		return msgStoreUnavailable, nil
	default:
		return msgAuthUnknownError, []any{o.Backend}
	}
}

func allKeys() []string {
	keys := make([]string, 0, len(spanish))
	for key := range spanish {
		keys = append(keys, key)
	}
	return keys
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
