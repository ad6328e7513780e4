package sampler

// BuildStrategy is the read strategy compiled into this binary. Select it
// with the change_destination and read_until_idle build tags.
var BuildStrategy = StrategyFor(changeDestination, readUntilIdle)
