package feed

import (
	"fmt"
	"sync"

	"meerkat/interfaces"
	"meerkat/model"
	"meerkat/utils/log"
)

var ErrAlreadyStarted = fmt.Errorf("tick feed already started for symbol")

type TickConsumer func(tick model.Tick)

// TickFeed : 심볼 하나의 라이브 커넥션 + 전달 고루틴
type TickFeed struct {
	stream interfaces.TickStream
	done   chan struct{}
}

// TickFeedSubscription : 심볼별 틱 스트림을 열고 구독자에게 전달한다.
// 전체 흐름 : New -> Subscribe -> Start -> (ticks) -> Stop
// Stop된 심볼의 늦은 틱은 구독자까지 도달하지 않는다.
type TickFeedSubscription struct {
	data interfaces.MarketData

	mu                  sync.RWMutex
	feeds               map[string]*TickFeed
	subscriptionsByFeed map[string][]TickConsumer
}

func NewTickFeed(data interfaces.MarketData) *TickFeedSubscription {
	return &TickFeedSubscription{
		data:                data,
		feeds:               make(map[string]*TickFeed),
		subscriptionsByFeed: make(map[string][]TickConsumer),
	}
}

// Subscribe : 구독 등록. Start 전에 불러야 첫 틱부터 받는다.
func (f *TickFeedSubscription) Subscribe(symbol string, consumer TickConsumer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptionsByFeed[symbol] = append(f.subscriptionsByFeed[symbol], consumer)
}

// Start : 커넥션을 열고 전달 고루틴을 띄운다. 심볼당 커넥션은 최대 1개.
func (f *TickFeedSubscription) Start(symbol string) error {
	f.mu.Lock()
	if _, ok := f.feeds[symbol]; ok {
		f.mu.Unlock()
		return ErrAlreadyStarted
	}
	f.mu.Unlock()

	stream, err := f.data.TickSubscription(symbol)
	if err != nil {
		return fmt.Errorf("open tick stream for %s: %w", symbol, err)
	}

	feed := &TickFeed{stream: stream, done: make(chan struct{})}

	f.mu.Lock()
	f.feeds[symbol] = feed
	f.mu.Unlock()

	go func() {
		ticks := stream.Ticks()
		errs := stream.Errs()
		for {
			select {
			case <-feed.done:
				return
			case tick, ok := <-ticks:
				if !ok {
					return
				}
				f.deliver(symbol, tick)
			case err, ok := <-errs:
				if !ok {
					// 닫힌 채널이 select를 계속 잡아먹지 않게 비활성화
					errs = nil
					continue
				}
				if err != nil {
					// 스트림 에러는 표면화하지 않는다. 재연결은 스트림이 알아서.
					log.Error("tickFeed/start: ", err)
				}
			}
		}
	}()

	log.Infof("[feed] tick feed started for %s", symbol)
	return nil
}

func (f *TickFeedSubscription) deliver(symbol string, tick model.Tick) {
	f.mu.RLock()
	consumers := f.subscriptionsByFeed[symbol]
	f.mu.RUnlock()

	for _, consumer := range consumers {
		consumer(tick)
	}
}

// Stop : 커넥션 종료 + 해당 심볼 구독자 제거. 이후 도착분은 버려진다.
func (f *TickFeedSubscription) Stop(symbol string) {
	f.mu.Lock()
	feed, ok := f.feeds[symbol]
	if ok {
		delete(f.feeds, symbol)
	}
	delete(f.subscriptionsByFeed, symbol)
	f.mu.Unlock()

	if !ok {
		return
	}
	close(feed.done)
	feed.stream.Stop()
	log.Infof("[feed] tick feed stopped for %s", symbol)
}

func (f *TickFeedSubscription) StopAll() {
	f.mu.Lock()
	feeds := f.feeds
	f.feeds = make(map[string]*TickFeed)
	f.subscriptionsByFeed = make(map[string][]TickConsumer)
	f.mu.Unlock()

	for symbol, feed := range feeds {
		close(feed.done)
		feed.stream.Stop()
		log.Infof("[feed] tick feed stopped for %s", symbol)
	}
}

// Active : 현재 커넥션이 살아 있는 심볼인지
func (f *TickFeedSubscription) Active(symbol string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.feeds[symbol]
	return ok
}
