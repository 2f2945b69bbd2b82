// Package vsslctrl controls VSSL-family networked audio amplifiers over
// their binary TCP protocol.
//
// A Device aggregates one physical amplifier: one Zone per output, each with
// its own TCP connection and sync engine, a shared group coordinator and a
// shared event bus. The library is optimistic about nothing: every write is
// sent to the device and the visible state only changes when the device
// confirms it, so what a caller reads is always something the hardware
// actually reported.
//
// Typical use:
//
//	dev, err := vsslctrl.New(capability.ModelA3, nil)
//	dev.AddZone(1, "10.0.0.11")
//	dev.AddZone(2, "10.0.0.12")
//	failed, err := dev.Initialise(ctx)
//
//	zone, _ := dev.Zone(1)
//	conf, err := zone.SetVolume(40)
//	err = conf.Wait(ctx)
package vsslctrl
