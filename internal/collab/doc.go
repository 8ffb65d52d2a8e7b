// Package collab is the message bus shared by execution instances.
//
// Catch events subscribe a Listener under a correlation key. Send resolves
// the subscribers matching a message and hands it to every target instance
// the listener reports. Direct messages match on key; broadcast messages
// (signals) reach every listener whose own definition is a broadcast.
//
// The subscriber list has its own lock. Send copies it and releases the
// lock before delivering, so listeners are free to lock instances and to
// subscribe or unsubscribe while a send is in progress.
//
// Delay defers a Send through a Scheduler: TimerScheduler keeps deadlines
// in process timers, RedisScheduler keeps them in a Redis sorted set so
// several pollers can share them.
package collab
