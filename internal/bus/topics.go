package bus

// Topic constants carried across the bus. These are a stable wire contract
// within the process — renaming one is a breaking change for every plugin
// that subscribes to it.
const (
	// Plugin -> publish scheduler
	TopicPublishRegister      = "publish:register"
	TopicPublishQueue         = "publish:queue"
	TopicPublishDirect        = "publish:direct"
	TopicPublishRemove        = "publish:remove"
	TopicPublishReorder       = "publish:reorder"
	TopicPublishList          = "publish:list"
	TopicPublishReportSuccess = "publish:report:success"
	TopicPublishReportFailure = "publish:report:failure"

	// publish scheduler -> plugin
	TopicPublishExecute      = "publish:execute"
	TopicPublishQueued       = "publish:queued"
	TopicPublishCompleted    = "publish:completed"
	TopicPublishFailed       = "publish:failed"
	TopicPublishListResponse = "publish:list:response"

	// system / startup
	TopicSystemPluginsReady = "system:plugins:ready"
	TopicSyncInitialDone    = "sync:initial:completed"

	// job queue / progress monitor
	TopicJobProgress  = "job:progress"
	TopicJobCompleted = "job:completed"
	TopicJobFailed    = "job:failed"

	// batch job manager
	TopicBatchProgress  = "batch:progress"
	TopicBatchCompleted = "batch:completed"
	TopicBatchFailed    = "batch:failed"

	// entity lifecycle (producer side only — out of scope collaborators consume these)
	TopicEntityCreated = "entity:created"
	TopicEntityUpdated = "entity:updated"
	TopicEntityDeleted = "entity:deleted"
)
