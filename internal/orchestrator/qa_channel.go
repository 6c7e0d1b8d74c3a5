package orchestrator

import (
	"context"
)

// Question is what a suspended run asks.
type Question struct {
	RunID   string
	Goal    string
	Content string
	Digest  string // Working memory digest of the run

	responseCh chan Answer
}

// Answer is the response to a question.
type Answer struct {
	Content string
	Error   error
}

// AnswerFunc answers a question, typically by prompting a person.
type AnswerFunc func(ctx context.Context, q Question) (string, error)

// QAChannel serializes the questions of concurrently running goals onto a
// single AnswerFunc.
type QAChannel struct {
	questionCh chan Question
	answerFn   AnswerFunc
	done       chan struct{}
}

// NewQAChannel creates a new Q&A channel with the specified buffer size and answer function.
// bufferSize should typically be 2x the concurrency limit to prevent blocking.
func NewQAChannel(bufferSize int, answerFn AnswerFunc) *QAChannel {
	return &QAChannel{
		questionCh: make(chan Question, bufferSize),
		answerFn:   answerFn,
		done:       make(chan struct{}),
	}
}

// Start launches the question handler goroutine.
// It processes questions until the context is cancelled.
func (qac *QAChannel) Start(ctx context.Context) {
	go qac.handleQuestions(ctx)
}

func (qac *QAChannel) handleQuestions(ctx context.Context) {
	defer close(qac.done)

	for {
		select {
		case <-ctx.Done():
			return
		case q := <-qac.questionCh:
			content, err := qac.answerFn(ctx, q)

			select {
			case <-ctx.Done():
				q.responseCh <- Answer{Error: ctx.Err()}
				return
			default:
				q.responseCh <- Answer{Content: content, Error: err}
			}
		}
	}
}

// Ask sends q to the handler and waits for the answer.
// It respects context cancellation at both the send and receive stages.
func (qac *QAChannel) Ask(ctx context.Context, q Question) (string, error) {
	// Buffered so the handler never blocks on an abandoned question.
	q.responseCh = make(chan Answer, 1)

	select {
	case qac.questionCh <- q:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case answer := <-q.responseCh:
		if answer.Error != nil {
			return "", answer.Error
		}
		return answer.Content, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Stop blocks until the handler goroutine has exited.
func (qac *QAChannel) Stop() {
	<-qac.done
}
