// Package commandbus delivers device commands over MQTT and feeds the
// results back into the protocol engine.
//
// The Bridge is installed as the engine's command handler. Each batch of
// commands for a device is published as one CommandMessage on
// iotagent/command/{service}/{device}. Device adapters answer with a
// ResultMessage on iotagent/result/{service}/{device}; the Bridge writes
// it to the device entity as <command>_status and <command>_result.
package commandbus
