package transport

import "context"

// Task は非同期に実行中のAPI呼び出しのハンドル。
// Cancelで中断でき、完了コールバックは中断時も含めて必ず1回だけ呼ばれる。
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Go はfnを別のgoroutineで実行し、結果をcompletionに渡す。
// completionは中断された場合も含めて必ず1回だけ、任意のgoroutineから呼ばれる。
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error), completion func(T, error)) *Task {
	ctx, cancel := context.WithCancel(ctx)
	task := &Task{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(task.done)
		defer cancel()

		result, err := fn(ctx)
		if completion != nil {
			completion(result, err)
		}
	}()

	return task
}

// Cancel は実行中のリクエストを中断する。完了後に呼んでも何もしない。
func (t *Task) Cancel() {
	t.cancel()
}

// Done は完了コールバックの実行後にクローズされるチャネルを返す。
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait は完了コールバックの実行が終わるまでブロックする。
func (t *Task) Wait() {
	<-t.done
}
