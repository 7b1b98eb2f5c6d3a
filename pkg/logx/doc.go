// Package logx is a thin structured-logging layer over zerolog.
//
// It exists so components depend on a small stable API (Logger + Field)
// instead of zerolog directly, and so logging config can be re-applied at
// runtime without handing every component a new logger.
package logx
