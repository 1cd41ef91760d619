// Package domain models road-surface telemetry and the road segments it is
// matched against.
//
// # Telemetry
//
// Each message on the source topic is one JSON document produced by a
// vehicle-mounted camera classifier:
//
//	{
//	  "created": "2020-05-27T15:38:19.208757Z",
//	  "predictions": [{"probability": 0.79, "tagName": "SNOW"}, ...],
//	  "position": {"status": "1", "accuracy": "0.7", "latitude": "62.410672",
//	               "longitude": "17.270033", "angle": "38.7"}
//	}
//
// Position fields arrive as strings or numbers depending on firmware. They are
// parsed with strconv, so the decimal separator is always '.', regardless of
// host locale. The dominant prediction is the entry with the highest
// probability; ties keep the first entry seen.
//
// # Road segments
//
// Road segments are NGSI-LD entities owned by the context broker. Their
// geometry is the GeoJSON LineString in "location.value.coordinates", in
// (longitude, latitude) order. The only attribute this service writes is
// "surfaceType".
//
// # Resolution
//
// A position is resolved to the segment whose polyline is nearest, measured by
// [geometry.DistanceToPolyline]. Every candidate returned by the near query is
// evaluated because the broker does not order results by distance. Segments
// with fewer than two coordinates are skipped.
package domain
