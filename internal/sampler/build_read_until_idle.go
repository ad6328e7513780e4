//go:build read_until_idle

package sampler

const readUntilIdle = true
