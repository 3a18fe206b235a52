package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - HTTP
// =================================================================================

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field    { return zap.String("method", v) }
func Path(v string) zap.Field      { return zap.String("path", v) }
func Status(v int) zap.Field       { return zap.Int("status", v) }
func Bytes(v int) zap.Field        { return zap.Int("bytes", v) }
func ClientIP(v string) zap.Field  { return zap.String("client_ip", v) }

// DurationMs crea un campo para la duración en milisegundos.
func DurationMs(v int64) zap.Field { return zap.Int64("duration_ms", v) }

// Duration crea un campo para la duración de una operación.
func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

// =================================================================================
// CAMPOS ESTÁNDAR - NEGOCIO
// =================================================================================

// TenantID crea un campo para el ID del tenant (store).
func TenantID(v string) zap.Field { return zap.String("tenant_id", v) }

// CredentialStatus crea un campo para el estado de una credencial.
func CredentialStatus(v string) zap.Field { return zap.String("credential_status", v) }

// ChannelID crea un campo para el canal de YouTube vinculado.
func ChannelID(v string) zap.Field { return zap.String("channel_id", v) }

// ErrKind clasifica el error (invalid_state, provider, crypto...) sin exponer detalles.
func ErrKind(v string) zap.Field { return zap.String("error_kind", v) }

// EnvelopeFP loguea solo la huella de un envelope cifrado. Nunca pasar tokens en claro.
func EnvelopeFP(v string) zap.Field { return zap.String("envelope_fp", v) }

// =================================================================================
// CAMPOS ESTÁNDAR - SISTEMA
// =================================================================================

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field { return zap.String("component", v) }

// Op crea un campo para la operación actual.
func Op(v string) zap.Field { return zap.String("op", v) }

// Layer crea un campo para la capa (controller, service, repository).
func Layer(v string) zap.Field { return zap.String("layer", v) }

// Err crea un campo para un error.
func Err(err error) zap.Field { return zap.Error(err) }

func Count(v int) zap.Field                  { return zap.Int("count", v) }
func String(key, v string) zap.Field         { return zap.String(key, v) }
func Int(key string, v int) zap.Field        { return zap.Int(key, v) }
func Bool(key string, v bool) zap.Field      { return zap.Bool(key, v) }
func Time(key string, v time.Time) zap.Field { return zap.Time(key, v) }
func Any(key string, v any) zap.Field        { return zap.Any(key, v) }
