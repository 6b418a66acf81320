// Package events delivers output lifecycle signals to observers.
package events
