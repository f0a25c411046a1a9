// Package ngsi is the northbound protocol engine of the agent.
//
// A Service provisions devices in the Broker, sends their attribute updates,
// answers the Broker's queries and commands, and manages subscriptions. It
// speaks either the legacy (NGSI v1) or the current (NGSI v2) wire protocol,
// selected by Config.Version.
//
// Every Broker call passes through the security gate, and every update
// through the transformation pipeline, which may split one device update
// into several entities:
//
//	svc, err := ngsi.New(cfg, ngsi.Deps{Devices: repo, Logger: log})
//	if err != nil {
//	    return err
//	}
//	err = svc.Update(ctx, "Room1", "Room", "", attrs, nil)
package ngsi
