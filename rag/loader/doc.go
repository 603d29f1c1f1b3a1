// Package loader 把本地语料文件加载为文档与知识图谱实体，并写入检索存储。
//
// 内置格式：
//   - 纯文本 (.txt)：整文件一个文档
//   - Markdown (.md)：按标题切分，支持 YAML front matter 元数据
//   - CSV (.csv)：每行一个文档，其余列作为元数据
//   - JSON / JSONL (.json, .jsonl)：记录可携带 entities
//
// 用 Registry 按扩展名加载目录，再交给 Indexer：
//
//	corpus, err := loader.NewRegistry().LoadPath(ctx, "./corpus")
//	stats, err := loader.NewIndexer(embedder, store, graph, loader.DefaultIndexerConfig(), logger).Index(ctx, corpus)
package loader
