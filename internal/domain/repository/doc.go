// Package repository define el modelo de dominio de credenciales de Google/YouTube
// y los contratos de almacenamiento que consume el lifecycle manager.
//
// Las implementaciones concretas viven en internal/store/pg (PostgreSQL, pgx)
// e internal/store/memory (tests y modo desarrollo).
//
// Convenciones:
//   - Context siempre es el primer parámetro.
//   - tenantID es la partition key de toda mutación.
//   - Los tokens se guardan SOLO como envelopes cifrados (ver security/tokencipher).
//   - Errores de dominio están en errors.go.
package repository
