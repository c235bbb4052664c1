// Package logger создаёт zap-логгер в зависимости от окружения запуска.
package logger

import (
	"fmt"

	"go.uber.org/zap"
)

// Окружения запуска.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

// New создаёт логгер для окружения env. Логгер создаётся один раз при старте
// и передаётся компонентам явно.
func New(env string) (*zap.Logger, error) {
	switch env {
	case EnvProduction:
		return zap.NewProduction()
	case EnvDevelopment, "":
		return zap.NewDevelopment()
	case EnvTest:
		return zap.NewNop(), nil
	default:
		return nil, fmt.Errorf("unknown environment %q", env)
	}
}
