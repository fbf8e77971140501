package protocol

// This package implements the Sparkplug topic namespace: the message types,
// the namespace tokens of the two payload generations, and the parsing and
// building of topic strings.
//
// === Topic syntax
//
// Node scoped messages
//
//   ```
//   <namespace>/<group_id>/<NBIRTH|NDEATH|NDATA|NCMD|STATE>/<edge_node_id>
//   ```
//
// Device scoped messages
//
//   ```
//   <namespace>/<group_id>/<DBIRTH|DDEATH|DDATA|DCMD>/<edge_node_id>/<device_id>
//   ```
//
// Host application state
//
//   ```
//   STATE/<host_id>               (Sparkplug 2.2)
//   <namespace>/STATE/<host_id>   (Sparkplug 3.0)
//   ```
//
// - `<namespace>` is `spAv1.0` for the legacy Kura payloads and `spBv1.0` for
//   Sparkplug B payloads
// - ids must not be empty and must not contain `/`, `+` or `#`
// - message type tokens are case sensitive and uppercase
//
// === Message types
//
// - `NBIRTH` / `DBIRTH` - announce the full metric set of a node or device and
//                         start a new sequence epoch. NBIRTH carries `bdSeq`.
// - `NDEATH` / `DDEATH` - the session ended. NDEATH carries the `bdSeq` of the
//                         session it ends and is registered as the MQTT will.
// - `NDATA` / `DDATA`   - metric changes.
// - `NCMD` / `DCMD`     - commands from a host application.
// - `STATE`             - host application online / offline.
//
// === Sequence numbers
//
// Every NBIRTH, NDATA, DBIRTH and DDATA from one edge node carries the node's
// sequence number. It is 0 on NBIRTH and goes up by one per message, wrapping
// from 255 to 0. A subscriber that sees a gap has lost messages.
//
// === STATE payloads
//
//   ```
//   ONLINE | OFFLINE                          (2.2)
//   {"online":true,"timestamp":1700000000000} (3.0)
//   ```
//
