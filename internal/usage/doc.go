// Package usage 把每次成功生成的 token 用量与成本写入关系数据库，
// 供运维核算与 CLI 查询。Ledger 实现 router.UsageRecorder。
package usage
