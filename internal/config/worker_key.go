package config

type WorkerKeyStruct struct {
	CheckpointQueue string
}

var WorkerKey = &WorkerKeyStruct{
	CheckpointQueue: "checkpoint_queue",
}
