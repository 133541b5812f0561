package bus

// Router owns the two queues described by the spec's event bus topology:
// one shared by the System and Audio FSMs, one dedicated to the UI FSM.
// It inverts the cyclic FSM-to-FSM reference problem (DESIGN NOTES,
// "Cyclic FSM references") by giving every FSM a handle to the router
// instead of to each other.
type Router struct {
	SystemAndAudio *Queue
	UI             *Queue

	systemReact func(Event)
	audioReact  func(Event)

	system *Dispatcher
	audio  *Dispatcher
	ui     *Dispatcher
}

// NewRouter creates the two queues with sensible default capacities.
// Internal plumbing events (GpioInterrupt, StreamUpdate, PlaybackUpdate)
// are frequent; external ones (console commands) are not, so one shared
// queue per FSM pair is sufficient headroom.
func NewRouter() *Router {
	r := &Router{
		SystemAndAudio: NewQueue(128),
		UI:             NewQueue(64),
	}
	r.SystemAndAudio.react = r.routeSystemAndAudio
	return r
}

// routeSystemAndAudio is the single react installed on the shared queue.
// System and Audio each see every event on the shared queue and decide for
// themselves whether to act on it, matching the broadcast-or-ignore shape
// of events like SdStateChanged/BootComplete which both FSMs react to.
func (r *Router) routeSystemAndAudio(event Event) {
	if r.systemReact != nil {
		r.systemReact(event)
	}
	if r.audioReact != nil {
		r.audioReact(event)
	}
}

// BindSystem installs the System FSM's react function on the shared queue.
func (r *Router) BindSystem(react func(Event)) *Dispatcher {
	r.systemReact = react
	r.system = &Dispatcher{queue: r.SystemAndAudio, react: react}
	return r.system
}

// BindAudio installs the Audio FSM's react function on the shared queue.
func (r *Router) BindAudio(react func(Event)) *Dispatcher {
	r.audioReact = react
	r.audio = &Dispatcher{queue: r.SystemAndAudio, react: react}
	return r.audio
}

// BindUI installs the UI FSM's react function on the UI-dedicated queue.
func (r *Router) BindUI(react func(Event)) *Dispatcher {
	r.ui = NewDispatcher(r.UI, react)
	return r.ui
}

// DispatchAll broadcasts event to both queues, used for broadcast-style
// events like BootComplete, SdStateChanged and PlaybackUpdate.
func (r *Router) DispatchAll(event Event) {
	r.SystemAndAudio.enqueue(workItem{event: event})
	r.UI.enqueue(workItem{event: event})
}

// AudioDispatcher returns a Dispatcher onto the shared System/Audio queue
// for use by callers that need to post commands (SetTrack, SetVolume,
// SetOutput, TogglePlayPause...) without themselves being the bound
// react for that queue — the console and the UI FSM use it, the UI's
// script bindings turning a Property write-filter's accepted write into
// a command on the bus per §4.6/§9 ("the filter synchronously triggers a
// command into the core event bus").
func (r *Router) AudioDispatcher() *Dispatcher {
	return &Dispatcher{queue: r.SystemAndAudio}
}
