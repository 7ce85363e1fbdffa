package reorm

import (
	"github.com/pkg/errors"
)

var (
	// ErrModelNotFound 未声明的集合名
	ErrModelNotFound = errors.New("no such model")
	// ErrQueryBuilderUnreferenced 数据库关闭后继续使用查询构造器
	ErrQueryBuilderUnreferenced = errors.New("query builder unreferenced after shutdown")
	// ErrPendingValue 订阅首次解析完成前读取持有值
	ErrPendingValue = errors.New("reactive value is still pending")
	// ErrRecordNotFound OrFail 族查询未命中
	ErrRecordNotFound = errors.New("record not found")
	// ErrQueryExecution 包装非预期的存储层错误
	ErrQueryExecution = errors.New("query execution failed")
)
