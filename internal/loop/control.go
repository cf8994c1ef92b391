package loop

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/map-control-plane/internal/infra"
)

// listenControl — "живучая" подписка на управляющие сигналы Redis.
// Обрабатывает переподключения: консоль может прислать pause/resume
// в любой момент жизни процесса.
func (l *Loop) listenControl(ctx context.Context) {
	if l.rdb == nil {
		return
	}

	for {
		pubsub := l.rdb.Subscribe(ctx, infra.RedisChanAutonomyControl)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			if ctx.Err() != nil {
				pubsub.Close()
				return
			}
			l.logger.Error("failed to subscribe to control channel", zap.Error(err))
			time.Sleep(5 * time.Second)
			continue
		}

		// При каждом успешном коннекте публикуем актуальное состояние
		l.mirrorState(ctx)

		ch := pubsub.Channel()

	recv:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv // Канал закрыт, идем на переподключение
				}
				l.handleSignal(ctx, msg.Payload)
			}
		}

		pubsub.Close()
		time.Sleep(1 * time.Second)
	}
}

func (l *Loop) handleSignal(ctx context.Context, signal string) {
	switch signal {
	case infra.AutonomySignalPause:
		l.Pause()
	case infra.AutonomySignalResume:
		l.Resume()
	default:
		l.logger.Warn("unknown autonomy control signal", zap.String("signal", signal))
		return
	}
	l.mirrorState(ctx)
}
