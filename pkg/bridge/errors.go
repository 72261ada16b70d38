// Copyright 2024-2026 Aiku AI

package bridge

import "fmt"

// The reconciler wraps package-manager and service-manager failures into
// component-specific error kinds. Content is passed through unmodified;
// only the type changes so the charm shell can map each kind to a unit
// status. None of these are retried in-process: the next dispatched event
// is the only retry path.

// InstallError is a package-manager failure during Prepare.
type InstallError struct{ Err error }

func (e *InstallError) Error() string { return fmt.Sprintf("installing bridge: %v", e.Err) }
func (e *InstallError) Unwrap() error { return e.Err }

// ReloadError is a service-manager failure during Reload.
type ReloadError struct{ Err error }

func (e *ReloadError) Error() string { return fmt.Sprintf("reloading bridge service: %v", e.Err) }
func (e *ReloadError) Unwrap() error { return e.Err }

// StartError is a service-manager failure during Start.
type StartError struct{ Err error }

func (e *StartError) Error() string { return fmt.Sprintf("starting bridge service: %v", e.Err) }
func (e *StartError) Unwrap() error { return e.Err }

// StopError is a service-manager failure during Stop.
type StopError struct{ Err error }

func (e *StopError) Error() string { return fmt.Sprintf("stopping bridge service: %v", e.Err) }
func (e *StopError) Unwrap() error { return e.Err }
