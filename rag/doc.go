// Copyright 2025-2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package rag 实现问答管线的检索编排层：语义缓存、自适应检索广度、
查询增强、交叉编码器重排，以及对向量存储与图存储的并发检索。

# 核心接口/类型

  - SemanticCache — 问题 → 答案缓存，精确匹配 + 余弦相似度匹配，LRU + TTL
  - TopKSelector — 由问题复杂度与意图计算 top_k，纯函数
  - QueryAugmenter — 同义词扩展与 HyDE 假设答案，只作用于检索
  - CrossEncoderReranker — 分批联合打分并稳定排序，失败时保留原顺序
  - Orchestrator — top_k → 增强 → 向量化 → 向量与图并发检索 → 合并 → 重排
  - VectorStore — 向量检索接口（InMemoryVectorStore / MilvusStore）
  - GraphStore — 图查询接口（KnowledgeGraph / Neo4jGraphStore）
  - CacheMirror — 跨实例缓存镜像接口（RedisCacheMirror）

# 降级语义

外部能力失败时本地重试或降级：向量化不可用时缓存只做精确匹配；
单个存储超时重试一次，仍失败则使用其余结果；全部失败且无候选时
返回 RETRIEVAL_UNAVAILABLE。维度不一致属于编程错误，直接返回
DIMENSION_MISMATCH。

# 配置

factory.go 中的工厂函数把 config.Config 映射为各组件实例。
*/
package rag
