// Package telemetry 封装 OpenTelemetry SDK 初始化，为问答服务提供
// TracerProvider 与 MeterProvider。遥测关闭时保持 noop 实现，不连接外部服务。
package telemetry
