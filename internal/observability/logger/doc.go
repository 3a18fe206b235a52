// Package logger expone un logger Zap singleton con scoping por contexto.
//
// # Decisiones
//
//   - Singleton: una sola instancia global inicializada con Init().
//   - Context scoping: cada request (o cada tenant dentro de un scan) lleva su propio
//     logger con campos adicionales (request_id, tenant_id) sin crear un core nuevo.
//   - Entornos: "dev" usa consola con colores, "prod" usa JSON.
//   - Nunca se loguean tokens en claro: para credenciales usar EnvelopeFP().
//
// # Uso
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel})
//	defer logger.Sync()
//
//	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("RefreshOne"))
//	log.Info("token refreshed", logger.TenantID(id))
package logger
