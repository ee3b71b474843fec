package engine

import (
	"log"
	"time"

	"whisper-link/internal/chat"
	"whisper-link/internal/database"
	"whisper-link/internal/engine/actors"
	"whisper-link/internal/identity"
	"whisper-link/internal/pubsub"
	"whisper-link/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
)

// Deps are the collaborators the supervisors are built on.
type Deps struct {
	Store    database.Store
	Bus      pubsub.Bus
	Service  *chat.Service
	Screener actors.PhoneScreener
	Verifier identity.PhoneVerifier
	Metrics  *utils.MetricsCollector
}

// Engine coordinates communication between actors
type Engine struct {
	root                   *actor.RootContext
	authSupervisor         *actor.PID
	conversationSupervisor *actor.PID
	timeout                time.Duration
}

func NewEngine(system *actor.ActorSystem, deps Deps, timeout time.Duration) *Engine {
	context := system.Root

	authProps := actor.PropsFromProducer(func() actor.Actor {
		return actors.NewAuthSupervisor(deps.Store, deps.Bus, deps.Screener, deps.Verifier, deps.Metrics, timeout)
	})
	authPID := context.Spawn(authProps)

	conversationProps := actor.PropsFromProducer(func() actor.Actor {
		return actors.NewConversationSupervisor(deps.Service, timeout)
	})
	conversationPID := context.Spawn(conversationProps)

	return &Engine{
		root:                   context,
		authSupervisor:         authPID,
		conversationSupervisor: conversationPID,
		timeout:                timeout,
	}
}

// GetAuthSupervisor returns the PID of the auth supervisor
func (e *Engine) GetAuthSupervisor() *actor.PID {
	return e.authSupervisor
}

// GetConversationSupervisor returns the PID of the conversation supervisor
func (e *Engine) GetConversationSupervisor() *actor.PID {
	return e.conversationSupervisor
}

// Ask sends msg to pid and waits for the reply. An *utils.AppError reply is
// returned as the error; a missing reply becomes ACTOR_TIMEOUT.
func (e *Engine) Ask(pid *actor.PID, msg interface{}) (interface{}, error) {
	future := e.root.RequestFuture(pid, msg, e.timeout)
	result, err := future.Result()
	if err != nil {
		log.Printf("Engine: request %T to %s failed: %v", msg, pid.Id, err)
		return nil, utils.NewActorTimeoutError(pid.Id, err)
	}
	if appErr, ok := result.(*utils.AppError); ok {
		return nil, appErr
	}
	return result, nil
}

// Auth asks the auth supervisor.
func (e *Engine) Auth(msg interface{}) (interface{}, error) {
	return e.Ask(e.authSupervisor, msg)
}

// Conversation asks the conversation supervisor, which forwards to the
// conversation's own actor.
func (e *Engine) Conversation(msg interface{}) (interface{}, error) {
	return e.Ask(e.conversationSupervisor, msg)
}
