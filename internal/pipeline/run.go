// Package pipeline は有界チャネルで接続した2段階の並行パイプラインと、
// それを用いたギャラリー画像の同期処理（アセットパイプライン）を提供する。
package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Run は1つのプロデューサーとworkers個のコンシューマーを容量capacityのチャネルで接続して実行する。
//
// produceはsendで要素を下流に送る。sendはコンシューマー側が失敗した場合にエラーを返す。
// produceが戻るとチャネルは閉じられ、コンシューマーは残りの要素を処理して終了する。
// いずれかが失敗した時点でコンテキストがキャンセルされ、最初のエラーが返る。
// 他方の未処理分は破棄され、処理済みの結果は巻き戻さない。
func Run[T any](
	ctx context.Context,
	capacity, workers int,
	produce func(ctx context.Context, send func(T) error) error,
	consume func(ctx context.Context, item T) error,
) error {
	if capacity < 1 {
		capacity = 1
	}
	if workers < 1 {
		workers = 1
	}

	ch := make(chan T, capacity)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(ch)
		send := func(item T) error {
			select {
			case ch <- item:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return produce(gctx, send)
	})

	for range workers {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case item, ok := <-ch:
					if !ok {
						return nil
					}
					if err := consume(gctx, item); err != nil {
						return err
					}
				}
			}
		})
	}

	return g.Wait()
}
