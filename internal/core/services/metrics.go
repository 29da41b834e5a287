package services

import (
	"babaphone/internal/core/domain"
	"babaphone/internal/core/ports"
)

type nopMetrics struct{}

func (nopMetrics) DeviceRegistered(domain.DeviceType) {}
func (nopMetrics) DeviceUnregistered()                {}
func (nopMetrics) ActiveDevices(int)                  {}
func (nopMetrics) SignalQueued(domain.SignalType)     {}
func (nopMetrics) SignalsDelivered(int)               {}
func (nopMetrics) AudioRelayed(int)                   {}
func (nopMetrics) PacketsDelivered(int)               {}
func (nopMetrics) RecordsExpired(string, int)         {}

func metricsOrNop(m ports.BackendMetrics) ports.BackendMetrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}
