//go:build !change_destination

package sampler

const changeDestination = false
