/*
Package bench provides the shared engine behind the whc-bench tools - a worker
pool that drives a fleet of device ids through an operation for a number of
rounds, an aggregator with a latency report, a buffered CSV writer for raw
samples, and an idle watchdog for the receive-side tools.

 * Every device is dispatched once per round. The per-device interval spaces
   repeat dispatches of the same device, so command expiry windows hold even
   when the fleet is large.
 * The number of shards and the workers per shard are configurable. Each
   shard builds its own operation, e.g. an HTTP client with its own
   connection pool.
 * With the resume option, units that succeeded in a previous run are
   skipped.
 * Device ids may come from a local CSV file, a GCS url or inline data.
*/
package bench
