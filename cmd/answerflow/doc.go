// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 AnswerFlow 命令行入口。

# 概述

cmd/answerflow 装配语义缓存、检索编排与分层路由，对外提供
HTTP 问答服务以及一组本地运维子命令。配置来自 YAML 文件与
ANSWERFLOW_ 前缀的环境变量，日志使用 zap，指标通过 Prometheus 暴露。

# 子命令

  - serve   — 启动 HTTP 服务，可用 --documents 在启动时导入语料
  - ask     — 在本地回答一个问题并打印来源
  - ingest  — 将文件或目录写入配置的向量存储与图存储
  - usage   — 汇总用量账本中的 token 与成本
  - health  — 检查运行中的服务
  - version — 打印版本信息

# HTTP 路由

  - POST /v1/answer — 问答
  - GET  /v1/stats  — 缓存与用量统计
  - GET  /healthz   — 健康检查
  - GET  /metrics   — Prometheus 指标
  - GET  /version   — 版本信息
*/
package main
