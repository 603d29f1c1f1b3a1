// Package config 提供 AnswerFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序加载，加载后统一校验
// （意图表完整性、层级与降级链、阈值范围），校验通过的配置在进程
// 生命周期内只读。
package config
