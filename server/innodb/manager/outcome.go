package manager

import "context"

// Outcome 原子操作内计算的结果
type Outcome[T any] struct {
	Value   T
	Err     error
	Aborted bool
}

// OK 计算成功并已提交
func (o Outcome[T]) OK() bool {
	return o.Err == nil
}

// Get 返回值和错误
func (o Outcome[T]) Get() (T, error) {
	return o.Value, o.Err
}

// CalculateInsideAtomicOperation 在原子操作内计算一个值。失败或中止时回滚，Value为零值。
func CalculateInsideAtomicOperation[T any](ctx context.Context, m *AtomicOperationsManager, body func(ctx context.Context, op *AtomicOperation) (T, error)) Outcome[T] {
	var value T
	err := m.ExecuteInsideAtomicOperation(ctx, func(ctx context.Context, op *AtomicOperation) error {
		v, err := body(ctx, op)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if err != nil {
		var zero T
		return Outcome[T]{Value: zero, Err: err, Aborted: IsAbort(err)}
	}
	return Outcome[T]{Value: value}
}
