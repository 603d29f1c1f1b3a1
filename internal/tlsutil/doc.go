// Package tlsutil 为出站 HTTP 调用（生成、嵌入、重排服务与 Milvus REST）
// 提供统一的 TLS 加固与连接池设置：TLS 1.2+，仅 AEAD 密码套件。
package tlsutil
