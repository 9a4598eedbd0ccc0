// config.go - Haupt-Konfigurationsfunktionen fuer InvokeAI
//
// Dieses Modul enthaelt:
// - Root: Gibt das InvokeAI-Root-Verzeichnis zurueck (INVOKEAI_ROOT)
// - Models: Gibt das Model-Verzeichnis zurueck (INVOKEAI_MODELS)
// - Device: Gibt das Standard-Geraet fuer Tensoren zurueck (INVOKEAI_DEVICE)
// - Precision: Gibt die Standard-Praezision zurueck (INVOKEAI_PRECISION)
// - APIBase: Gibt den Basis-Pfad fuer Bild-URLs zurueck (INVOKEAI_API_BASE)
// - LoadWorkers: Gibt die Anzahl paralleler Shard-Decoder zurueck (INVOKEAI_LOAD_WORKERS)
// - LogLevel: Gibt Log-Level zurueck (INVOKEAI_DEBUG)
//
// Weitere Funktionen sind ausgelagert:
// - config_utils.go: Utility-Funktionen und AsMap/Values
package envconfig

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Root gibt das InvokeAI-Root-Verzeichnis zurueck
// Konfigurierbar via INVOKEAI_ROOT
// Default: $HOME/invokeai
func Root() string {
	if s := Var("INVOKEAI_ROOT"); s != "" {
		return s
	}

	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}

	return filepath.Join(home, "invokeai")
}

// Models gibt das Model-Verzeichnis zurueck
// Konfigurierbar via INVOKEAI_MODELS
// Default: <root>/models
func Models() string {
	if s := Var("INVOKEAI_MODELS"); s != "" {
		return s
	}

	return filepath.Join(Root(), "models")
}

// Device gibt das Standard-Geraet fuer Tensoren zurueck
// Konfigurierbar via INVOKEAI_DEVICE (cpu, cuda, cuda:N, mps)
// Default: cpu
func Device() string {
	if s := strings.ToLower(Var("INVOKEAI_DEVICE")); s != "" && s != "auto" {
		return s
	}

	return "cpu"
}

// Precision gibt die Standard-Praezision zurueck
// Konfigurierbar via INVOKEAI_PRECISION (float32, float16, bfloat16, auto)
// "auto" waehlt float16 fuer GPUs und float32 fuer die CPU
// Default: float32
func Precision() string {
	s := strings.ToLower(Var("INVOKEAI_PRECISION"))
	switch s {
	case "", "auto":
		if Device() == "cpu" {
			return "float32"
		}
		return "float16"
	default:
		return s
	}
}

// APIBase gibt den Basis-Pfad fuer Bild- und Thumbnail-URLs zurueck
// Konfigurierbar via INVOKEAI_API_BASE
// Default: api/v1
func APIBase() string {
	if s := strings.TrimRight(Var("INVOKEAI_API_BASE"), "/"); s != "" {
		return s
	}

	return "api/v1"
}

// LoadWorkers gibt die maximale Anzahl paralleler Shard-Decoder zurueck
// Konfigurierbar via INVOKEAI_LOAD_WORKERS
// Default: GOMAXPROCS-1, mindestens 1
func LoadWorkers() int {
	workers := Uint("INVOKEAI_LOAD_WORKERS", 0)()
	if workers == 0 {
		return max(runtime.GOMAXPROCS(0)-1, 1)
	}

	return int(workers)
}

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via INVOKEAI_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("INVOKEAI_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
