// Package telemetry records property-change history in InfluxDB.
//
// Each confirmed property change becomes one point in the "property"
// measurement, tagged with the entity and the property name. Writes are
// batched and non-blocking; a slow or unreachable InfluxDB never stalls
// the control path.
package telemetry
